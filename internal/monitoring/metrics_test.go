package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDownloadMetrics(t *testing.T) {
	before := testutil.ToFloat64(DownloadsTotal.WithLabelValues("completed"))

	RecordDownloadStart()
	RecordDownloadComplete(5*time.Second, 4*1024*1024)

	after := testutil.ToFloat64(DownloadsTotal.WithLabelValues("completed"))
	if after != before+1 {
		t.Errorf("Expected completed downloads to grow by 1, got %v -> %v", before, after)
	}
}

func TestRecordDownloadFailed(t *testing.T) {
	before := testutil.ToFloat64(ErrorsTotal.WithLabelValues("http"))

	RecordDownloadStart()
	RecordDownloadFailed("http")

	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("http")); got != before+1 {
		t.Errorf("Expected http errors to grow by 1, got %v -> %v", before, got)
	}
}

func TestGauges(t *testing.T) {
	UpdatePendingJobs(7)
	if got := testutil.ToFloat64(PendingJobs); got != 7 {
		t.Errorf("Expected pending jobs 7, got %v", got)
	}

	UpdateRegistrySize(3)
	if got := testutil.ToFloat64(RegistrySize); got != 3 {
		t.Errorf("Expected registry size 3, got %v", got)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	RecordAPIRequest("/getSongs", "success", 100*time.Millisecond)
	RecordAPIRequest("/getSongs", "error", 50*time.Millisecond)

	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("/getSongs", "error")); got < 1 {
		t.Errorf("Expected at least one failed request, got %v", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/api/jobs", "POST", "202"))

	RecordHTTPRequest("/api/jobs", "POST", 202, 3*time.Millisecond)

	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/api/jobs", "POST", "202")); got != before+1 {
		t.Errorf("Expected request count to grow by 1, got %v -> %v", before, got)
	}
}
