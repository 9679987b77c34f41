package wire

import "net/netip"

// IP addresses are encoded as raw octets, not strings: 4 bytes for IPv4 and
// 16 bytes for IPv6.

// WriteIPv4 appends the 4-octet form of a. a must be an IPv4 address.
func WriteIPv4(w Writer, a netip.Addr) {
	b := a.As4()
	w.WriteAll(b[:])
}

// WriteIPv6 appends the 16-octet form of a.
func WriteIPv6(w Writer, a netip.Addr) {
	b := a.As16()
	w.WriteAll(b[:])
}

// TakeIPv4 consumes 4 octets and returns them as an address.
func (r *Reader) TakeIPv4() (netip.Addr, error) {
	b, err := r.Take(4)
	if err != nil {
		return netip.Addr{}, err
	}
	return netip.AddrFrom4([4]byte(b)), nil
}

// TakeIPv6 consumes 16 octets and returns them as an address.
func (r *Reader) TakeIPv6() (netip.Addr, error) {
	b, err := r.Take(16)
	if err != nil {
		return netip.Addr{}, err
	}
	return netip.AddrFrom16([16]byte(b)), nil
}

// IPv4 is a Writeable/Readable wrapper around a 4-octet address.
type IPv4 netip.Addr

// WriteOnto implements Writeable.
func (a IPv4) WriteOnto(w Writer) {
	WriteIPv4(w, netip.Addr(a))
}

// TakeFrom implements Readable.
func (a *IPv4) TakeFrom(r *Reader) error {
	addr, err := r.TakeIPv4()
	if err != nil {
		return err
	}
	*a = IPv4(addr)
	return nil
}

// IPv6 is a Writeable/Readable wrapper around a 16-octet address.
type IPv6 netip.Addr

// WriteOnto implements Writeable.
func (a IPv6) WriteOnto(w Writer) {
	WriteIPv6(w, netip.Addr(a))
}

// TakeFrom implements Readable.
func (a *IPv6) TakeFrom(r *Reader) error {
	addr, err := r.TakeIPv6()
	if err != nil {
		return err
	}
	*a = IPv6(addr)
	return nil
}
