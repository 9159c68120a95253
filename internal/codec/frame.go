package codec

// Frame is an encoded downlink value for one device channel.
type Frame struct {
	Channel int
	Type    int
	Payload []byte
}

// Bytes returns the wire form: channel, type tag, then the value bytes.
func (f Frame) Bytes() []byte {
	out := make([]byte, 0, len(f.Payload)+2)
	out = append(out, byte(f.Channel), byte(f.Type))
	return append(out, f.Payload...)
}
