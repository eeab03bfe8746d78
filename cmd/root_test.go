package cmd

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"otad/util"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestExecute_Version(t *testing.T) {
	out, _, err := run(t, "--version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "otad "+version+"\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {}} {
		name := "no-args"
		if len(args) > 0 {
			name = args[0]
		}
		t.Run(name, func(t *testing.T) {
			_, errOut, err := run(t, args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(errOut, "--upload") {
				t.Errorf("usage missing flags:\n%s", errOut)
			}
		})
	}
}

func TestExecute_DryRun(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"serve", []string{"-l", "-p", "8266", "--dry-run"}, ""},
		{"serve with bind", []string{"-l", "--dry-run", "127.0.0.1", "9000"}, ""},
		{"push", []string{"--upload", "fw/", "--reboot", "--dry-run", "esp-link"}, ""},
		{"push via tunnel", []string{"-T", "ops@bastion:2222", "--next", "--dry-run", "10.0.0.50"}, ""},
		{"bad chunk", []string{"-l", "--chunk-size", "100", "--dry-run"}, "chunk-size"},
		{"bad bank", []string{"-l", "--bank", "C", "--dry-run"}, "bank"},
		{"bad class", []string{"-l", "--flash-class", "9", "--dry-run"}, "flash-class"},
		{"serve with client op", []string{"-l", "--reboot", "--dry-run"}, "cannot be combined"},
		{"nothing to do", []string{"--dry-run", "esp-link"}, "nothing to do"},
		{"no host", []string{"--next", "--dry-run"}, "host is required"},
		{"bad port", []string{"--next", "--dry-run", "esp-link", "http"}, "port"},
		{"too many args", []string{"--next", "--dry-run", "a", "80", "b"}, "too many arguments"},
		{"bad tunnel", []string{"-T", "ops@bastion:ssh", "--next", "--dry-run", "esp"}, "tunnel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, tt.args...)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestExecute_EnvBelowFlags(t *testing.T) {
	t.Setenv("OTAD_CHUNK_SIZE", "100")
	if _, _, err := run(t, "-l", "--dry-run"); err == nil {
		t.Fatal("expected the env chunk size to be rejected")
	}
	if _, _, err := run(t, "-l", "--chunk-size", "128", "--dry-run"); err != nil {
		t.Fatalf("flag should override env: %v", err)
	}
}

func TestExecute_InvalidFlags(t *testing.T) {
	if _, _, err := run(t, "--nonexistent-flag"); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestExecute_ServeAndNext(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	p := strconv.Itoa(port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		var sink bytes.Buffer
		done <- execute(ctx, []string{"-l", "--bank", "B", "127.0.0.1", p}, &sink, &sink)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		c, err := net.Dial("tcp", "127.0.0.1:"+p)
		if err == nil {
			c.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("device never listened: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	out, _, err := run(t, "--next", "127.0.0.1", p)
	if err != nil {
		t.Fatal(err)
	}
	if out != "user1.bin\n" {
		t.Errorf("stdout = %q, want user1.bin", out)
	}
}
