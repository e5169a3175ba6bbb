package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"facefeed/internal/detection"
	"facefeed/internal/platform/config"
	"facefeed/internal/platform/metrics"
	"facefeed/internal/publish"
	"facefeed/internal/session"
	"facefeed/internal/source"
)

const mqttConnectTimeout = 10 * time.Second

// components are the long-lived pieces shared by serve and watch.
type components struct {
	controller *session.Controller
	mqtt       mqtt.Client
}

func (c *components) close() {
	publish.Disconnect(c.mqtt)
}

// buildComponents wires the backend client, the optional summary publisher
// and the session controller. onError may be nil.
func buildComponents(ctx context.Context, cfg config.Config, log *slog.Logger, met *metrics.Metrics, onError func(error), observers ...session.Observer) (*components, error) {
	fields := detection.DefaultFieldMapping()
	if cfg.FieldMappingFile != "" {
		var err error
		fields, err = detection.LoadFieldMapping(cfg.FieldMappingFile)
		if err != nil {
			return nil, fmt.Errorf("field mapping: %w", err)
		}
	}

	backend, err := source.New(cfg.BackendURL, source.WithLogger(log))
	if err != nil {
		return nil, err
	}

	out := &components{}
	if cfg.MQTTBroker != "" {
		cctx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
		mc, err := publish.Connect(cctx, publish.BrokerConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, log)
		cancel()
		if err != nil {
			// Publishing is optional; the session runs without it.
			log.Warn("summary publishing disabled", slog.String("error", err.Error()))
		} else {
			out.mqtt = mc
			observers = append(observers, publish.NewSummaryPublisher(mc, cfg.MQTTTopic, log, met))
		}
	}

	out.controller = session.NewController(session.Config{
		SourceID:       cfg.SourceID,
		PollInterval:   cfg.PollInterval,
		FetchTimeout:   cfg.FetchTimeout,
		AcquireTimeout: cfg.AcquireTimeout,
		Capacity:       cfg.Capacity,
	}, session.Deps{
		Fetcher:    backend,
		Capture:    backend,
		Notifier:   backend,
		Clearer:    backend,
		Normalizer: detection.NewNormalizer(fields, detection.WithLocation(cfg.Location)),
		Observers:  observers,
		OnError: func(err error) {
			log.Error("session stopped on error", slog.String("error", err.Error()))
			if onError != nil {
				onError(err)
			}
		},
		Logger:  log,
		Metrics: met,
	})
	return out, nil
}
