package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/relabs-tech/locfix/internal/location"
)

// GetLocation asks a running bridge at baseURL for one fix.
func GetLocation(ctx context.Context, client *http.Client, baseURL string, opts location.Options) (location.Fix, error) {
	body, err := json.Marshal(opts)
	if err != nil {
		return location.Fix{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/location", bytes.NewReader(body))
	if err != nil {
		return location.Fix{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return location.Fix{}, fmt.Errorf("request location: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return location.Fix{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if err := json.Unmarshal(data, &e); err != nil || e.Code == "" {
			return location.Fix{}, fmt.Errorf("bridge returned %s", resp.Status)
		}
		return location.Fix{}, &location.Error{Kind: e.Code, Message: e.Message}
	}

	var fix location.Fix
	if err := json.Unmarshal(data, &fix); err != nil {
		return location.Fix{}, fmt.Errorf("decode fix: %w", err)
	}
	return fix, nil
}

// RunGetLocation requests one fix from the local bridge and prints it.
func RunGetLocation(ctx context.Context, out io.Writer, opts location.Options) error {
	cfg, logger, shutdownTracing, err := loadRuntime("locfix-getlocation")
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background()) //nolint:errcheck

	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	baseURL := fmt.Sprintf("http://localhost:%d", cfg.WebServerPort)
	logger.WithField("bridge", baseURL).Debug("requesting location")

	fix, err := GetLocation(ctx, client, baseURL, opts)
	if err != nil {
		return err
	}
	PrintFix(out, fix)
	return nil
}

// PrintFix writes fix in the console format.
func PrintFix(out io.Writer, fix location.Fix) {
	mock := ""
	if fix.IsFakeLocation {
		mock = "  [MOCK]"
	}
	fmt.Fprintf(out,
		"[FIX] %-8s LAT=%11.6f LON=%11.6f ACC=%6.1fm ALT=%7.1fm SPD=%5.1fm/s BRG=%5.1f° %s%s\n",
		fix.Provider, fix.Latitude, fix.Longitude, fix.Accuracy, fix.Altitude,
		fix.Speed, fix.Bearing, time.UnixMilli(fix.Time).UTC().Format(time.RFC3339), mock,
	)
}
