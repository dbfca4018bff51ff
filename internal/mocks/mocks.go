// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/formrunner/api/schemas"
	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/orchestrator"
	"github.com/xkilldash9x/formrunner/internal/store"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Proxy() config.ProxyConfig {
	args := m.Called()
	return args.Get(0).(config.ProxyConfig)
}

func (m *MockConfig) Profiles() config.ProfilesConfig {
	args := m.Called()
	return args.Get(0).(config.ProfilesConfig)
}

func (m *MockConfig) Forms() config.FormsConfig {
	args := m.Called()
	return args.Get(0).(config.FormsConfig)
}

func (m *MockConfig) Checkout() config.CheckoutConfig {
	args := m.Called()
	return args.Get(0).(config.CheckoutConfig)
}

func (m *MockConfig) API() config.APIConfig {
	args := m.Called()
	return args.Get(0).(config.APIConfig)
}

func (m *MockConfig) Defaults() config.DefaultsConfig {
	args := m.Called()
	return args.Get(0).(config.DefaultsConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetBrowserHumanoidEnabled(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetEngineWorkerConcurrency(w int) {
	m.Called(w)
}

func (m *MockConfig) SetProxyEnabled(b bool) {
	m.Called(b)
}

// -- Store Mock --

// MockStore mocks the job result store.
type MockStore struct {
	mock.Mock
}

// PersistResult provides a mock function for persisting job records.
func (m *MockStore) PersistResult(ctx context.Context, rec store.JobRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// GetResult provides a mock function for loading a job record.
func (m *MockStore) GetResult(ctx context.Context, jobID string) (*store.JobRecord, error) {
	args := m.Called(ctx, jobID)
	var rec *store.JobRecord
	if r := args.Get(0); r != nil {
		rec = r.(*store.JobRecord)
	}
	return rec, args.Error(1)
}

// -- Processor Mock --

// MockProcessor mocks the per-job orchestrator.
type MockProcessor struct {
	mock.Mock
}

// Process records the call and returns the configured result. A Run hook can
// drive progress or block on the context.
func (m *MockProcessor) Process(ctx context.Context, task schemas.Task, progress orchestrator.ProgressReporter) (*schemas.JobResult, error) {
	args := m.Called(ctx, task, progress)
	var res *schemas.JobResult
	if r := args.Get(0); r != nil {
		res = r.(*schemas.JobResult)
	}
	return res, args.Error(1)
}

// -- Session Closer Mock --

// MockSessionCloser mocks browser.Manager's shutdown hook.
type MockSessionCloser struct {
	mock.Mock
}

func (m *MockSessionCloser) CloseAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
