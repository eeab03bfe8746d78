package request

// Route identifies which handler owns the body of a request.
type Route int

const (
	RouteNone Route = iota
	RouteNext
	RouteUpload
	RouteReboot
)

func (r Route) String() string {
	switch r {
	case RouteNext:
		return "next"
	case RouteUpload:
		return "upload"
	case RouteReboot:
		return "reboot"
	default:
		return "none"
	}
}

// Paths served by the OTA endpoint.
const (
	PathNext   = "/flash/next"
	PathUpload = "/flash/upload"
	PathReboot = "/flash/reboot"
)

type routeKey struct {
	method string
	path   string
}

var routes = map[routeKey]Route{
	{"GET", PathNext}:    RouteNext,
	{"POST", PathUpload}: RouteUpload,
	{"POST", PathReboot}: RouteReboot,
}

// Lookup resolves an exact (method, path) pair.
func Lookup(method, path string) (Route, bool) {
	r, ok := routes[routeKey{method, path}]
	return r, ok
}
