// Package iobuf implements the per-handler I/O buffer (spec.md §3
// IoBuffer): a contiguous byte region with begin/end offsets tracking
// a readable window and a writable tail.
//
// Grounded on original_source/trunk/bas/io_buffer.hpp: the offset
// arithmetic (consume/produce/crunch) below is the same as that C++
// class, translated to Go slice semantics.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package iobuf

// Buffer is a fixed-capacity byte buffer with a readable region
// [begin, end) and a writable tail [end, capacity). It is not safe
// for concurrent use: spec.md §5 guarantees the reactor mutates it
// before posting a callback and the callback mutates it before
// calling back into the reactor, so no buffer-internal locking is
// required.
type Buffer struct {
	data  []byte
	begin int
	end   int
}

// New allocates a Buffer with the given fixed capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Clear resets both offsets to zero, discarding any readable data.
func (b *Buffer) Clear() {
	b.begin = 0
	b.end = 0
}

// Capacity returns the buffer's fixed total size.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Size returns the amount of unread (readable) data.
func (b *Buffer) Size() int {
	return b.end - b.begin
}

// Space returns the amount of free space at the tail.
func (b *Buffer) Space() int {
	return len(b.data) - b.end
}

// Empty reports whether there is no unread data.
func (b *Buffer) Empty() bool {
	return b.begin == b.end
}

// Data returns the readable region [begin, end). The returned slice
// aliases the buffer's backing array and is only valid until the next
// mutating call.
func (b *Buffer) Data() []byte {
	return b.data[b.begin:b.end]
}

// Tail returns the writable region [end, capacity), suitable as the
// destination of a read.
func (b *Buffer) Tail() []byte {
	return b.data[b.end:]
}

// Consume advances begin by n, discarding n bytes from the front of
// the readable region. Panics if n > Size(), mirroring the C++
// library's BOOST_ASSERT(count <= size()).
func (b *Buffer) Consume(n int) {
	if n > b.Size() {
		panic("iobuf: consume past end of readable region")
	}
	b.begin += n
	if b.begin == b.end {
		b.Clear()
	}
}

// Produce advances end by n, marking n more tail bytes as readable.
// Panics if n > Space().
func (b *Buffer) Produce(n int) {
	if n > b.Space() {
		panic("iobuf: produce past buffer capacity")
	}
	b.end += n
}

// Append copies p into the writable tail and advances end. Panics if
// p does not fit in Space().
func (b *Buffer) Append(p []byte) {
	if len(p) > b.Space() {
		panic("iobuf: append exceeds buffer capacity")
	}
	copy(b.data[b.end:], p)
	b.end += len(p)
}

// Crunch moves the readable region to offset 0, reclaiming space
// consumed at the front without discarding unread data.
func (b *Buffer) Crunch() {
	if b.begin == 0 {
		return
	}
	if b.Empty() {
		b.Clear()
		return
	}
	n := copy(b.data, b.data[b.begin:b.end])
	b.begin = 0
	b.end = n
}
