package ingest

import (
	"encoding/json"

	"github.com/citytransit/etalearn/internal/domain"
)

func encodeResponse(resp domain.IngestResponse) ([]byte, error) {
	return json.Marshal(resp)
}

func decodeResponse(b []byte) (domain.IngestResponse, error) {
	var resp domain.IngestResponse
	err := json.Unmarshal(b, &resp)
	return resp, err
}
