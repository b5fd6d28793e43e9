package impression

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSupabaseConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SupabaseConfig
		wantErr string
	}{
		{"missing url", SupabaseConfig{APIKey: "k"}, "URL is required"},
		{"missing key", SupabaseConfig{URL: "https://x.supabase.co"}, "API key is required"},
		{"ok", SupabaseConfig{URL: "https://x.supabase.co", APIKey: "k"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestImpressionRow_OmitsMutableColumns(t *testing.T) {
	imp := newImp("i1")
	at := time.Now()
	imp.ClickedAt = &at

	raw, err := json.Marshal(toImpressionRow(&imp))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "clicked_at") || strings.Contains(string(raw), "conversion_value") {
		t.Errorf("insert payload must not carry click state: %s", raw)
	}
}

func TestImpressionRow_ToDomain(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	v := 9.99
	row := impressionRow{ID: "i1", RequestID: "r", ProductID: "p", ClickedAt: &at, ConversionValue: &v}

	imp := row.toDomain()
	if !imp.Clicked() || imp.ClickedAt.Location() != time.UTC {
		t.Errorf("clicked_at = %v", imp.ClickedAt)
	}
	if *imp.ConversionValue != v {
		t.Errorf("conversion = %v", *imp.ConversionValue)
	}
}
