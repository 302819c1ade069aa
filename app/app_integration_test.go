// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build integration
// +build integration

package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/influxdb"

	"github.com/soothill/tachometer-monitor/config"
)

type AppIntegrationTestSuite struct {
	suite.Suite
	influxDBContainer *influxdb.InfluxDbContainer
	influxDBURL       string
}

func TestAppIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(AppIntegrationTestSuite))
}

func (s *AppIntegrationTestSuite) SetupSuite() {
	ctx := context.Background()
	container, err := influxdb.Run(ctx,
		"influxdb:2.7-alpine",
		influxdb.WithV2Auth("testorg", "testbucket", "testuser", "testpassword"),
		influxdb.WithV2AdminToken("testtoken"),
	)
	s.Require().NoError(err)
	s.influxDBContainer = container

	s.influxDBURL, err = container.ConnectionUrl(ctx)
	s.Require().NoError(err)
}

func (s *AppIntegrationTestSuite) TearDownSuite() {
	if s.influxDBContainer != nil {
		s.Require().NoError(testcontainers.TerminateContainer(s.influxDBContainer))
	}
}

func (s *AppIntegrationTestSuite) loadConfig() (*config.Config, string) {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
device:
  static_ids: [TACH-IT]
  latency: 10ms
store:
  backend: file
  directory: %s
influxdb:
  url: %s
  token: testtoken
  organization: testorg
  bucket: testbucket
  spool_directory: %s
http:
  address: 127.0.0.1:0
`, filepath.Join(dir, "store"), s.influxDBURL, filepath.Join(dir, "spool"))
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	s.Require().NoError(err)
	return cfg, path
}

func (s *AppIntegrationTestSuite) TestDemoCycleIsArchived() {
	cfg, path := s.loadConfig()
	a, err := New(cfg, path)
	s.Require().NoError(err)
	defer a.Close()
	s.Require().NotNil(a.archive, "archive should be enabled")

	s.Require().NoError(a.RunDemo(context.Background(), "TACH-IT", 200*time.Millisecond))

	sessions := a.Dashboard().Sessions()
	s.Require().Len(sessions, 1)

	readings, err := a.influx.QuerySessionReadings(context.Background(), sessions[0].ID)
	s.Require().NoError(err)
	s.Len(readings, len(sessions[0].Data))
	s.False(a.archive.Spooling())
}

func (s *AppIntegrationTestSuite) TestRunShutsDownOnCancel() {
	cfg, path := s.loadConfig()
	a, err := New(cfg, path)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(10 * time.Second):
		s.T().Fatal("App did not shut down gracefully")
	}
}
