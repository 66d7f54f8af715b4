package grpcapi

import "testing"

func TestJSONCodecRoundTrips(t *testing.T) {
	c := jsonCodec{}
	in := &HealthResponse{Status: "ok", UptimeSeconds: 42, Version: "test"}

	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out HealthResponse
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != *in {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}

func TestJSONCodecUnmarshalIgnoresEmptyData(t *testing.T) {
	c := jsonCodec{}
	var out HealthRequest
	if err := c.Unmarshal(nil, &out); err != nil {
		t.Fatalf("expected no error for empty data, got %v", err)
	}
	if err := c.Unmarshal([]byte{}, &out); err != nil {
		t.Fatalf("expected no error for zero-length data, got %v", err)
	}
}

func TestJSONCodecName(t *testing.T) {
	if got := (jsonCodec{}).Name(); got != "json" {
		t.Fatalf("expected codec name json, got %q", got)
	}
}
