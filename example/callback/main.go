package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/thermoflow/pkg/thermoflow"
)

func main() {
	cfg, err := thermoflow.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	rt, err := thermoflow.NewRuntime(cfg, thermoflow.WithServices(thermoflow.ServiceProducer))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	callback := func(_ context.Context, s thermoflow.Sample) error {
		fmt.Printf("%s source=%s value=%.4f\n",
			s.CapturedAt.Format(time.RFC3339Nano),
			s.SourceID,
			s.Value,
		)
		return nil
	}
	if _, err := rt.OnSample("stdout", callback); err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}
