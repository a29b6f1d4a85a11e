package fetch

import "testing"

func TestClassifyProbeStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ProbeResult
	}{
		{200, ProbeOK},
		{204, ProbeOK},
		{304, ProbeNotModified},
		{301, ProbeFailed},
		{403, ProbeFailed},
		{404, ProbeFailed},
		{429, ProbeFailed},
		{500, ProbeFailed},
		{503, ProbeFailed},
	}

	for _, tt := range tests {
		if got := ClassifyProbeStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyProbeStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestIsFetchSuccess(t *testing.T) {
	if !IsFetchSuccess(200) {
		t.Error("200 は成功として扱うべき")
	}
	if IsFetchSuccess(304) {
		t.Error("304 は本文がないため成功として扱わないべき")
	}
	if IsFetchSuccess(502) {
		t.Error("502 は成功として扱わないべき")
	}
}

func TestHeadersMatch(t *testing.T) {
	tests := []struct {
		name                           string
		storedETag, storedLM, etag, lm string
		want                           bool
	}{
		{"ETag一致", `"a"`, "", `"a"`, "", true},
		{"Last-Modified一致", "", "Mon", "", "Mon", true},
		{"ETag不一致でLast-Modified一致", `"a"`, "Mon", `"b"`, "Mon", true},
		{"両方不一致", `"a"`, "Mon", `"b"`, "Tue", false},
		{"初回（保存値なし）", "", "", `"a"`, "Mon", false},
		{"ヘッダーなし", "", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HeadersMatch(tt.storedETag, tt.storedLM, tt.etag, tt.lm); got != tt.want {
				t.Errorf("HeadersMatch() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailureClass_Soft(t *testing.T) {
	for _, c := range []FailureClass{FailureTransport, FailureProbeStatus, FailureFetchStatus, FailureMalformedBody} {
		if !c.Soft() {
			t.Errorf("%s はソフト失敗であるべき", c)
		}
	}
	if FailureCancelled.Soft() {
		t.Error("cancelled はソフト失敗であってはならない")
	}
}
