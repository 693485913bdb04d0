package observability

import "github.com/ghalamif/thermoflow/internal/ports"

// Nop discards everything.
type Nop struct{}

func (Nop) LogInfo(string, ...ports.Field)           {}
func (Nop) LogError(string, error, ...ports.Field)    {}
func (Nop) LogCritical(string, error, ...ports.Field) {}
func (Nop) IncCounter(string, float64)               {}
func (Nop) ObserveLatency(string, float64)           {}
func (Nop) SetGauge(string, float64)                 {}
func (Nop) RecordDrop(string, error, ...ports.Field) {}

var _ ports.Observability = Nop{}
