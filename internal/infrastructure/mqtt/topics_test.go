package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestValidatePublishTopic(t *testing.T) {
	tests := []struct {
		topic   string
		wantErr bool
	}{
		{"mutual/test", false},
		{"a", false},
		{"/leading/slash", false},
		{"trailing/", false},
		{"", true},
		{"mutual/+", true},
		{"mutual/#", true},
		{"nul\x00byte", true},
		{"bad\xffutf8", true},
		{strings.Repeat("a", maxTopicLength+1), true},
	}

	for _, tt := range tests {
		err := ValidatePublishTopic(tt.topic)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePublishTopic(%.20q) error = %v, wantErr %v", tt.topic, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidatePublishTopic(%.20q) error = %v, want ErrInvalidTopic", tt.topic, err)
		}
	}
}

func TestValidateSubscribeTopic(t *testing.T) {
	tests := []struct {
		filter  string
		wantErr bool
	}{
		{"mutual/test", false},
		{"#", false},
		{"+", false},
		{"mutual/#", false},
		{"mutual/+/status", false},
		{"+/+/#", false},
		{"", true},
		{"mutual/#/x", true},
		{"mutual/te#", true},
		{"mutual/te+", true},
		{"mutual/++", true},
	}

	for _, tt := range tests {
		err := ValidateSubscribeTopic(tt.filter)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSubscribeTopic(%q) error = %v, wantErr %v", tt.filter, err, tt.wantErr)
		}
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var doc statusPayload
	if err := json.Unmarshal(buildStatusPayload("publisher1", statusOffline, reasonUnexpected), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.ClientID != "publisher1" || doc.Status != statusOffline || doc.Reason != reasonUnexpected {
		t.Errorf("payload = %+v", doc)
	}
	if doc.Timestamp == "" {
		t.Error("timestamp missing")
	}

	online := buildStatusPayload("publisher1", statusOnline, "")
	if strings.Contains(string(online), "reason") {
		t.Errorf("online payload %s should omit reason", online)
	}
}
