package serial

import "testing"

func TestPortInit(t *testing.T) {
	origReadFn, origWriteFn := portReadFn, portWriteFn
	t.Cleanup(func() { portReadFn, portWriteFn = origReadFn, origWriteFn })

	type regWrite struct {
		reg   uint16
		value uint8
	}
	var writes []regWrite
	portWriteFn = func(port uint16, value uint8) {
		writes = append(writes, regWrite{port - com1Base, value})
	}

	COM1.Init()

	exp := []regWrite{
		{regIntEnable, 0x00},
		{regLineCtrl, 0x80},
		{regData, 0x03},
		{regIntEnable, 0x00},
		{regLineCtrl, 0x03},
		{regFIFOCtrl, 0xC7},
		{regModemCtrl, 0x0B},
	}

	if len(writes) != len(exp) {
		t.Fatalf("expected %d register writes; got %d", len(exp), len(writes))
	}
	for i := range exp {
		if writes[i] != exp[i] {
			t.Errorf("[write %d] expected %+v; got %+v", i, exp[i], writes[i])
		}
	}
}

func TestPortWrite(t *testing.T) {
	f := installFakeUART(t)

	n, err := COM1.Write([]byte("abc"))
	if n != 3 || err != nil {
		t.Fatalf("expected (3, nil); got (%d, %v)", n, err)
	}
	if string(f.written) != "abc" {
		t.Errorf("expected the raw bytes to pass through; got %q", f.written)
	}
}

func TestPortTryReadByte(t *testing.T) {
	f := installFakeUART(t)

	// The fake line status always reports data ready, so an empty queue
	// yields zero bytes; script one byte and read it back.
	f.rxQueue = []byte{0x42}
	if b, ok := COM1.TryReadByte(); !ok || b != 0x42 {
		t.Errorf("expected (0x42, true); got (0x%x, %t)", b, ok)
	}
}
