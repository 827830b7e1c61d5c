package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

type channelRows []struct{ id, duration string }

func (c channelRows) Table() Table {
	t := Table{Headers: []string{"CHANNEL", "DURATION"}}
	for _, r := range c {
		t.Rows = append(t.Rows, []string{r.id, r.duration})
	}
	return t
}

var sampleRows = channelRows{{"100", "12d"}, {"20000", "1h"}}

func TestTextFormatter(t *testing.T) {
	tests := []struct {
		name string
		data any
		want string
	}{
		{
			name: "plain value",
			data: "test message",
			want: "test message\n",
		},
		{
			name: "table",
			data: sampleRows,
			want: "CHANNEL  DURATION\n100      12d\n20000    1h\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			if err := (&TextFormatter{}).FormatTo(buf, tt.data); err != nil {
				t.Fatalf("FormatTo() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("FormatTo() = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestJSONFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	data := map[string]int{"pending": 3}
	if err := (&JSONFormatter{Indent: true}).FormatTo(buf, data); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	var got map[string]int
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if got["pending"] != 3 {
		t.Errorf("pending = %d, want 3", got["pending"])
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("expected indented output")
	}
}

func TestCSVFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&CSVFormatter{}).FormatTo(buf, sampleRows); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	want := "CHANNEL,DURATION\n100,12d\n20000,1h\n"
	if buf.String() != want {
		t.Errorf("FormatTo() = %q, want %q", buf.String(), want)
	}

	if err := (&CSVFormatter{}).FormatTo(buf, "not a table"); err == nil {
		t.Error("FormatTo() on a non-tabular value should fail")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   string
	}{
		{FormatText, "*cli.TextFormatter"},
		{FormatJSON, "*cli.JSONFormatter"},
		{FormatCSV, "*cli.CSVFormatter"},
		{"unknown", "*cli.TextFormatter"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			got := NewFormatter(tt.format)
			switch tt.want {
			case "*cli.TextFormatter":
				_, ok := got.(*TextFormatter)
				if !ok {
					t.Errorf("NewFormatter(%q) = %T", tt.format, got)
				}
			case "*cli.JSONFormatter":
				if _, ok := got.(*JSONFormatter); !ok {
					t.Errorf("NewFormatter(%q) = %T", tt.format, got)
				}
			case "*cli.CSVFormatter":
				if _, ok := got.(*CSVFormatter); !ok {
					t.Errorf("NewFormatter(%q) = %T", tt.format, got)
				}
			}
		})
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"JSON", FormatJSON, false},
		{"csv", FormatCSV, false},
		{"yaml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOutputFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOutputFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseOutputFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}
