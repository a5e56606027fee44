package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func testInstrument() *Instrument {
	return &Instrument{
		InstrumentID: "TOK-USD",
		TokenSymbol:  "TOK",
		QuoteSymbol:  "USD",
		TickSize:     decimal.RequireFromString("0.01"),
		LotSize:      decimal.RequireFromString("1"),
	}
}

func TestInstrument_ValidPrice(t *testing.T) {
	ins := testInstrument()

	tests := []struct {
		price string
		want  bool
	}{
		{"100", true},
		{"100.01", true},
		{"0.01", true},
		{"100.005", false},
		{"0", false},
		{"-5", false},
	}
	for _, tt := range tests {
		p := decimal.RequireFromString(tt.price)
		if got := ins.ValidPrice(p); got != tt.want {
			t.Errorf("ValidPrice(%s) = %v, want %v", tt.price, got, tt.want)
		}
	}
}

func TestInstrument_ValidQuantity(t *testing.T) {
	ins := testInstrument()
	ins.LotSize = decimal.RequireFromString("0.5")

	tests := []struct {
		qty  string
		want bool
	}{
		{"1", true},
		{"0.5", true},
		{"2.5", true},
		{"0.25", false},
		{"0", false},
		{"-1", false},
	}
	for _, tt := range tests {
		q := decimal.RequireFromString(tt.qty)
		if got := ins.ValidQuantity(q); got != tt.want {
			t.Errorf("ValidQuantity(%s) = %v, want %v", tt.qty, got, tt.want)
		}
	}
}

func TestInstrumentRegistry_RegisterAndGet(t *testing.T) {
	reg := NewInstrumentRegistry()
	ins := testInstrument()

	if err := reg.Register(ins); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := reg.Get("TOK-USD")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != ins {
		t.Error("Get() returned a different instrument instance")
	}
}

func TestInstrumentRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewInstrumentRegistry()
	if err := reg.Register(testInstrument()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := reg.Register(testInstrument())
	if !errors.Is(err, ErrInstrumentAlreadyExists) {
		t.Errorf("Register() error = %v, want ErrInstrumentAlreadyExists", err)
	}
}

func TestInstrumentRegistry_GetUnknown(t *testing.T) {
	reg := NewInstrumentRegistry()

	_, err := reg.Get("GHOST-USD")
	if !errors.Is(err, ErrInstrumentNotFound) {
		t.Errorf("Get() error = %v, want ErrInstrumentNotFound", err)
	}
}

func TestInstrumentRegistry_List(t *testing.T) {
	reg := NewInstrumentRegistry()
	if got := reg.List(); len(got) != 0 {
		t.Errorf("List() on empty registry returned %d instruments", len(got))
	}

	a := testInstrument()
	b := testInstrument()
	b.InstrumentID = "GLD-USD"
	b.TokenSymbol = "GLD"
	if err := reg.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(b); err != nil {
		t.Fatal(err)
	}

	if got := reg.List(); len(got) != 2 {
		t.Errorf("List() returned %d instruments, want 2", len(got))
	}
}
