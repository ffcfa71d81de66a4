package hid

// Buffer fills a fixed-size HID report front to back.
type Buffer struct {
	data []byte
	cur  int
}

func NewBuffer(len int) *Buffer {
	return &Buffer{make([]byte, len), 0}
}

func (b *Buffer) Byte(v byte) *Buffer {
	b.data[b.cur] = v
	b.cur++
	return b
}

func (b *Buffer) Uint32(v uint32) *Buffer {
	enc.PutUint32(b.data[b.cur:], v)
	b.cur += 4
	return b
}

func (b *Buffer) Uint16(v uint16) *Buffer {
	enc.PutUint16(b.data[b.cur:], v)
	b.cur += 2
	return b
}

// Data copies as much of data as fits and returns the number of bytes
// copied through n.
func (b *Buffer) Data(data []byte, n *int) *Buffer {
	c := copy(b.data[b.cur:], data)
	b.cur += c
	if n != nil {
		*n = c
	}
	return b
}

func (b *Buffer) Bytes() []byte {
	return b.data
}
