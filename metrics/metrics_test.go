package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()

	a.RecordDrop(DropShort)
	a.RecordDrop(DropShort)
	b.RecordDrop(DropLength)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.FramesDropped.WithLabelValues(DropShort)))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.FramesDropped.WithLabelValues(DropShort)))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.FramesDropped.WithLabelValues(DropLength)))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.RecordEvent("fullSentence")
	m.Clients.Set(3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `hark_events_broadcast_total{type="fullSentence"} 1`))
	assert.True(t, strings.Contains(text, "hark_clients 3"))
}
