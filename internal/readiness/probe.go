// File: internal/readiness/probe.go
package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/xkilldash9x/arbiter/internal/config"
	"github.com/xkilldash9x/arbiter/internal/opmode"
)

// Probe kinds. Any other kind is treated as a pass-through probe.
const (
	KindHTTP = "http"
	KindEnv  = "env"
)

// Defaults applied to probe definitions that leave the field unset.
const (
	DefaultMaxLatency     = 5 * time.Second
	DefaultMethod         = http.MethodGet
	DefaultExpectedStatus = http.StatusOK

	// maxBodyBytes caps how much of a response is scanned for the expected substring.
	maxBodyBytes = 1 << 20
)

// ProbeDefinition is one configured health check. It is not modified after load.
type ProbeDefinition struct {
	Name                 string
	Kind                 string
	Criticality          opmode.Criticality
	URL                  string
	Method               string
	EnvVar               string
	MaxLatency           time.Duration
	ExpectedStatus       int
	ExpectedBodyContains string
}

// ProbeResult is the normalized outcome of a single probe run.
type ProbeResult struct {
	Name        string             `json:"name"`
	Criticality opmode.Criticality `json:"criticality"`
	Status      opmode.Status      `json:"status"`
	Latency     time.Duration      `json:"latency"`
	Error       string             `json:"error,omitempty"`
	StatusCode  int                `json:"status_code,omitempty"`
	Detail      string             `json:"detail,omitempty"`
}

// DefinitionsFromConfig converts configured probes into definitions with
// every default filled in.
func DefinitionsFromConfig(probes []config.ProbeConfig) []ProbeDefinition {
	defs := make([]ProbeDefinition, 0, len(probes))
	for _, p := range probes {
		def := ProbeDefinition{
			Name:                 p.Name,
			Kind:                 strings.ToLower(p.Kind),
			Criticality:          opmode.Criticality(strings.ToLower(p.Criticality)),
			URL:                  p.URL,
			Method:               strings.ToUpper(p.Method),
			EnvVar:               p.EnvVar,
			MaxLatency:           p.MaxLatency,
			ExpectedStatus:       p.ExpectedStatus,
			ExpectedBodyContains: p.ExpectedBodyContains,
		}
		defs = append(defs, def.withDefaults())
	}
	return defs
}

func (d ProbeDefinition) withDefaults() ProbeDefinition {
	if d.Method == "" {
		d.Method = DefaultMethod
	}
	if d.MaxLatency <= 0 {
		d.MaxLatency = DefaultMaxLatency
	}
	if d.ExpectedStatus == 0 {
		d.ExpectedStatus = DefaultExpectedStatus
	}
	if d.Criticality == "" {
		d.Criticality = opmode.CriticalityMedium
	}
	return d
}

// Runner executes probes. The zero value is not usable; use NewRunner.
type Runner struct {
	client    *http.Client
	lookupEnv func(string) (string, bool)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithHTTPClient overrides the client used by http probes.
func WithHTTPClient(c *http.Client) RunnerOption {
	return func(r *Runner) { r.client = c }
}

// WithLookupEnv overrides the environment lookup used by env probes.
func WithLookupEnv(fn func(string) (string, bool)) RunnerOption {
	return func(r *Runner) { r.lookupEnv = fn }
}

// NewRunner creates a probe runner with the given options applied.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		// Per-probe deadlines come from the context.
		client:    &http.Client{},
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one probe. It never returns an error; failures are encoded in
// the result status. A panic inside a probe is recovered and reported as down.
func (r *Runner) Run(ctx context.Context, def ProbeDefinition) (res ProbeResult) {
	def = def.withDefaults()
	res = ProbeResult{Name: def.Name, Criticality: def.Criticality}

	defer func() {
		if p := recover(); p != nil {
			res.Status = opmode.StatusDown
			res.Error = fmt.Sprintf("probe panicked: %v", p)
		}
	}()

	switch def.Kind {
	case KindHTTP:
		return r.runHTTP(ctx, def, res)
	case KindEnv:
		return r.runEnv(def, res)
	default:
		res.Status = opmode.StatusOK
		res.Detail = "unknown probe type, assumed ok"
		return res
	}
}

func (r *Runner) runEnv(def ProbeDefinition, res ProbeResult) ProbeResult {
	if v, ok := r.lookupEnv(def.EnvVar); ok && v != "" {
		res.Status = opmode.StatusOK
		res.Detail = fmt.Sprintf("%s is set", def.EnvVar)
		return res
	}
	res.Status = opmode.StatusDown
	res.Error = fmt.Sprintf("environment variable %s is not set", def.EnvVar)
	return res
}

func (r *Runner) runHTTP(ctx context.Context, def ProbeDefinition, res ProbeResult) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, def.MaxLatency)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, def.Method, def.URL, nil)
	if err != nil {
		res.Status = opmode.StatusDown
		res.Error = fmt.Sprintf("failed to build request: %v", err)
		return res
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		res.Status = opmode.StatusDown
		if errors.Is(err, context.DeadlineExceeded) {
			res.Error = fmt.Sprintf("timed out after %s", def.MaxLatency)
		} else {
			res.Error = err.Error()
		}
		return res
	}
	defer resp.Body.Close()
	res.StatusCode = resp.StatusCode

	var problems []string
	if resp.StatusCode != def.ExpectedStatus {
		problems = append(problems, fmt.Sprintf("expected status %d, got %d", def.ExpectedStatus, resp.StatusCode))
	}
	if res.Latency > def.MaxLatency {
		problems = append(problems, fmt.Sprintf("latency %s exceeds %s", res.Latency, def.MaxLatency))
	}
	if def.ExpectedBodyContains != "" {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		switch {
		case readErr != nil:
			problems = append(problems, fmt.Sprintf("failed to read body: %v", readErr))
		case !strings.Contains(string(body), def.ExpectedBodyContains):
			problems = append(problems, fmt.Sprintf("body does not contain %q", def.ExpectedBodyContains))
		}
	}

	if len(problems) > 0 {
		res.Status = opmode.StatusDegraded
		res.Detail = strings.Join(problems, "; ")
		return res
	}
	res.Status = opmode.StatusOK
	res.Detail = fmt.Sprintf("%s %s -> %d", def.Method, def.URL, resp.StatusCode)
	return res
}
