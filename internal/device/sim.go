package device

import (
	"sync"
	"time"

	"otad/internal/partition"
	"otad/util"
)

// Sim plays the boot controller of a simulated device.  A reboot with
// the upgrade flag set boots the other bank; without it the device
// comes back on the same bank.
type Sim struct {
	Logger *util.Logger

	// OnReboot, if set, is called after each simulated reboot with the
	// bank that is now running.
	OnReboot func(active partition.Bank)

	mu      sync.Mutex
	active  partition.Bank
	pending bool
	timer   *time.Timer
	boots   int
}

// NewSim returns a device running from active.
func NewSim(active partition.Bank, logger *util.Logger) *Sim {
	return &Sim{active: active, Logger: logger}
}

func (s *Sim) ActiveBank() partition.Bank {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Sim) SetUpgradePending() {
	s.mu.Lock()
	s.pending = true
	s.mu.Unlock()
}

// SetOnReboot replaces the OnReboot hook.  Unlike assigning the field,
// it is safe while a reboot is armed.
func (s *Sim) SetOnReboot(fn func(active partition.Bank)) {
	s.mu.Lock()
	s.OnReboot = fn
	s.mu.Unlock()
}

// UpgradePending reports whether the next reboot switches banks.
func (s *Sim) UpgradePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// ArmReboot schedules a reboot after delay, replacing any armed one.
func (s *Sim) ArmReboot(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, s.reboot)
}

// Armed reports whether a reboot is scheduled and has not fired.
func (s *Sim) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Boots returns how many simulated reboots have happened.
func (s *Sim) Boots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boots
}

// Stop cancels a pending reboot.
func (s *Sim) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Sim) reboot() {
	s.mu.Lock()
	from := s.active
	if s.pending {
		s.active = s.active.Other()
		s.pending = false
	}
	s.timer = nil
	s.boots++
	active, hook := s.active, s.OnReboot
	s.mu.Unlock()

	if s.Logger != nil {
		s.Logger.Info("device rebooted: bank %s -> %s (%s)", from, active, active.Name())
	}
	if hook != nil {
		hook(active)
	}
}
