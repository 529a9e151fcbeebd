package streams

import (
	"fmt"
	"net"
	"strconv"

	"github.com/dop251/goja"
)

// parseSocketAddr marshals a JS address into host:port form. Accepted
// shapes: a "host:port" string, or an object {address, port, family}.
func parseSocketAddr(vm *goja.Runtime, v goja.Value) (string, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", fmt.Errorf("address required")
	}
	if s, ok := v.Export().(string); ok {
		if _, _, err := net.SplitHostPort(s); err != nil {
			return "", fmt.Errorf("invalid address '%s': %v", s, err)
		}
		return s, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return "", fmt.Errorf("address must be a string or object")
	}
	hostVal := obj.Get("address")
	if hostVal == nil || goja.IsUndefined(hostVal) {
		return "", fmt.Errorf("address.address required")
	}
	portVal := obj.Get("port")
	if portVal == nil || goja.IsUndefined(portVal) {
		return "", fmt.Errorf("address.port required")
	}
	port := portVal.ToInteger()
	if port < 0 || port > 65535 {
		return "", fmt.Errorf("address.port out of range: %d", port)
	}
	return net.JoinHostPort(hostVal.String(), strconv.FormatInt(port, 10)), nil
}

// addrObject presents a transport address as {family, address, port}.
func addrObject(vm *goja.Runtime, addr net.Addr) goja.Value {
	if addr == nil {
		return goja.Null()
	}
	obj := vm.NewObject()
	switch a := addr.(type) {
	case *net.TCPAddr:
		_ = obj.Set("family", ipFamily(a.IP))
		_ = obj.Set("address", a.IP.String())
		_ = obj.Set("port", a.Port)
	case *net.UDPAddr:
		_ = obj.Set("family", ipFamily(a.IP))
		_ = obj.Set("address", a.IP.String())
		_ = obj.Set("port", a.Port)
	case *net.UnixAddr:
		_ = obj.Set("family", "unix")
		_ = obj.Set("address", a.Name)
		_ = obj.Set("port", 0)
	default:
		_ = obj.Set("family", addr.Network())
		_ = obj.Set("address", addr.String())
		_ = obj.Set("port", 0)
	}
	return obj
}

func ipFamily(ip net.IP) string {
	if ip.To4() != nil {
		return "ipv4"
	}
	return "ipv6"
}
