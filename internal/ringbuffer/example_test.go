package ringbuffer_test

import (
	"fmt"

	"audioring/internal/ringbuffer"
)

func Example() {
	rb, err := ringbuffer.New[float32](8, "in")
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println("pushed:", rb.Push([]float32{1, 2, 3, 4, 5, 6, 7}))
	fmt.Println("readable:", rb.AvailableForRead())

	frame := make([]float32, 7)
	fmt.Println("popped:", rb.Pop(frame), frame)
	fmt.Println("readable:", rb.AvailableForRead(), "writable:", rb.AvailableForWrite())
	// Output:
	// pushed: 7
	// readable: 7
	// popped: 7 [1 2 3 4 5 6 7]
	// readable: 0 writable: 8
}

func ExampleNew() {
	_, err := ringbuffer.New[int16](0, "out")
	fmt.Println(err)
	// Output:
	// ring buffer "out": ring buffer capacity must be positive
}
