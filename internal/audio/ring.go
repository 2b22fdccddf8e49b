package audio

import "time"

// RingBuffer is a fixed-capacity circular store of PCM-16 samples.
// When the buffer is full, new writes overwrite the oldest data, so it
// always retains the most recent capacity/sampleRate seconds of audio.
//
// RingBuffer is not safe for concurrent use. The owning session
// serializes all access; see the session package.
type RingBuffer struct {
	buf        []int16
	capacity   int
	sampleRate int
	writePos   int
	full       bool
	written    uint64 // total samples ever written
}

// NewRingBuffer creates a ring buffer retaining the given duration of
// audio at the given sample rate.
func NewRingBuffer(sampleRate int, retain time.Duration) *RingBuffer {
	capacity := int(retain.Seconds() * float64(sampleRate))
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		buf:        make([]int16, capacity),
		capacity:   capacity,
		sampleRate: sampleRate,
	}
}

// Write appends samples to the buffer. Writes longer than the capacity
// keep only the trailing capacity samples.
func (r *RingBuffer) Write(samples []int16) {
	r.written += uint64(len(samples))

	if len(samples) >= r.capacity {
		copy(r.buf, samples[len(samples)-r.capacity:])
		r.writePos = 0
		r.full = true
		return
	}

	end := r.writePos + len(samples)
	if end <= r.capacity {
		copy(r.buf[r.writePos:], samples)
		r.writePos = end % r.capacity
		if end == r.capacity {
			r.full = true
		}
	} else {
		head := r.capacity - r.writePos
		copy(r.buf[r.writePos:], samples[:head])
		copy(r.buf, samples[head:])
		r.writePos = len(samples) - head
		r.full = true
	}
}

// ReadLastSeconds returns up to duration*sampleRate of the most
// recently written samples in chronological order, oldest first. If
// fewer samples are available, all available samples are returned.
func (r *RingBuffer) ReadLastSeconds(d time.Duration) []int16 {
	return r.ReadLastSamples(int(d.Seconds() * float64(r.sampleRate)))
}

// ReadLastSamples returns up to n of the most recently written samples
// in chronological order.
func (r *RingBuffer) ReadLastSamples(n int) []int16 {
	if n > r.capacity {
		n = r.capacity
	}
	if n > r.Len() {
		n = r.Len()
	}
	if n <= 0 {
		return nil
	}

	out := make([]int16, n)
	if r.writePos >= n {
		copy(out, r.buf[r.writePos-n:r.writePos])
	} else {
		// Oldest part sits at the tail of the backing array.
		head := n - r.writePos
		copy(out, r.buf[r.capacity-head:])
		copy(out[head:], r.buf[:r.writePos])
	}
	return out
}

// Len returns the number of samples currently readable.
func (r *RingBuffer) Len() int {
	if r.full {
		return r.capacity
	}
	return r.writePos
}

// Capacity returns the fixed capacity in samples.
func (r *RingBuffer) Capacity() int {
	return r.capacity
}

// SampleRate returns the sample rate the buffer was created with.
func (r *RingBuffer) SampleRate() int {
	return r.sampleRate
}

// TotalWritten returns the total number of samples ever written,
// including samples that have since been overwritten.
func (r *RingBuffer) TotalWritten() uint64 {
	return r.written
}

// FillLevel returns how full the buffer is, from 0.0 to 1.0.
func (r *RingBuffer) FillLevel() float64 {
	if r.full {
		return 1.0
	}
	return float64(r.writePos) / float64(r.capacity)
}
