package thermoflow

import (
	"fmt"
	"strings"

	"github.com/ghalamif/thermoflow/internal/clock"
	"github.com/ghalamif/thermoflow/internal/domain"
	"github.com/ghalamif/thermoflow/internal/ports"
)

// Sample is one telemetry reading as carried on the bus.
type Sample = domain.Sample

// Record is the persisted form of a Sample.
type Record = domain.Record

// RecordStore is the storage collaborator behind the store service.
type RecordStore = ports.RecordStore

// Bus is the topic transport shared by all services of a runtime.
type Bus = ports.Bus

// Subscription is returned by Bus.Subscribe and Runtime.OnSample.
type Subscription = ports.Subscription

// Observability emits logs and metrics for every component.
type Observability = ports.Observability

// Field is a structured log/metric field used by Observability implementations.
type Field = ports.Field

// Clock supplies the time used for sample timestamps, windows and the breaker.
type Clock = clock.Clock

// TelemetryTopic is the topic samples are published on.
const TelemetryTopic = domain.TelemetryTopic

var (
	ErrBreakerOpen      = domain.ErrBreakerOpen
	ErrCallTimeout      = domain.ErrCallTimeout
	ErrCacheUnavailable = domain.ErrCacheUnavailable
	ErrNotFound         = domain.ErrNotFound
)

// Service names one of the three services a runtime can host.
type Service string

const (
	ServiceProducer Service = "producer"
	ServiceStore    Service = "store"
	ServiceGateway  Service = "gateway"
)

// AllServices lists every service in start order.
var AllServices = []Service{ServiceProducer, ServiceStore, ServiceGateway}

// ParseServices turns "producer,gateway" into services. Empty input selects
// all of them.
func ParseServices(list string) ([]Service, error) {
	if strings.TrimSpace(list) == "" {
		return AllServices, nil
	}
	var out []Service
	seen := map[Service]bool{}
	for _, part := range strings.Split(list, ",") {
		s := Service(strings.ToLower(strings.TrimSpace(part)))
		switch s {
		case ServiceProducer, ServiceStore, ServiceGateway:
		default:
			return nil, fmt.Errorf("unknown service %q", part)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}
