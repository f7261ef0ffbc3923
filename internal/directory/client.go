package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-scheduling/internal/metrics"
)

const (
	kindPatient = "patient"
	kindDoctor  = "doctor"
)

// Client calls GET {patients}/patients/{id} and GET {staff}/doctors/{id}.
type Client struct {
	http        *http.Client
	patientsURL string
	staffURL    string
	metrics     *metrics.Metrics
}

func NewClient(patientsURL, staffURL string, timeout time.Duration, m *metrics.Metrics) *Client {
	return &Client{
		http:        &http.Client{Timeout: timeout},
		patientsURL: strings.TrimRight(patientsURL, "/"),
		staffURL:    strings.TrimRight(staffURL, "/"),
		metrics:     m,
	}
}

func (c *Client) ResolvePatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	if err := c.get(ctx, kindPatient, c.patientsURL+"/patients/"+id.String(), &p); err != nil {
		return nil, err
	}
	if p.ID == uuid.Nil {
		p.ID = id
	}
	return &p, nil
}

func (c *Client) ResolveDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	if err := c.get(ctx, kindDoctor, c.staffURL+"/doctors/"+id.String(), &d); err != nil {
		return nil, err
	}
	if d.ID == uuid.Nil {
		d.ID = id
	}
	return &d, nil
}

func (c *Client) get(ctx context.Context, kind, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build %s lookup request: %w", kind, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveLookup(kind, "remote", metrics.OutcomeDependency)
		return fmt.Errorf("%w: %s lookup: %v", ErrUnavailable, kind, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.metrics.ObserveLookup(kind, "remote", metrics.OutcomeNotFound)
		return fmt.Errorf("%s lookup: %w", kind, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.metrics.ObserveLookup(kind, "remote", metrics.OutcomeDependency)
		return fmt.Errorf("%w: %s lookup returned status %d", ErrUnavailable, kind, resp.StatusCode)
	}

	// encoding/json matches field names case-insensitively, which is what the
	// directory services rely on.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.metrics.ObserveLookup(kind, "remote", metrics.OutcomeDependency)
		return fmt.Errorf("%w: read %s lookup body: %v", ErrUnavailable, kind, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.metrics.ObserveLookup(kind, "remote", metrics.OutcomeDependency)
		return fmt.Errorf("%w: decode %s lookup: %v", ErrUnavailable, kind, err)
	}

	c.metrics.ObserveLookup(kind, "remote", metrics.OutcomeSuccess)
	return nil
}
