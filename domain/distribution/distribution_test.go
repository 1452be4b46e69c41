package distribution

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndVerifyWebhookSignature(t *testing.T) {
	secret := "shh"
	body := []byte(`{"event":"mint"}`)
	sig := SignWebhook(secret, body)

	if !VerifyWebhookSignature(secret, body, sig) {
		t.Fatal("expected signature to verify")
	}
	if VerifyWebhookSignature(secret, body, "sha256=deadbeef") {
		t.Fatal("expected tampered signature to fail verification")
	}
	if VerifyWebhookSignature("wrong-secret", body, sig) {
		t.Fatal("expected wrong secret to fail verification")
	}
}

func TestSignatureFormat(t *testing.T) {
	sig := SignWebhook("s", []byte("b"))
	if len(sig) < len("sha256=") || sig[:7] != "sha256=" {
		t.Fatalf("expected sha256= prefix, got %s", sig)
	}
}

func TestBackoffDelayGrowsExponentially(t *testing.T) {
	policy := DefaultRetryPolicy
	d1 := policy.BackoffDelay(1)
	d2 := policy.BackoffDelay(2)
	d3 := policy.BackoffDelay(3)
	if !(d1 < d2 && d2 < d3) {
		t.Fatalf("expected strictly increasing backoff, got %v %v %v", d1, d2, d3)
	}
}

func TestRetryPolicyExhaustion(t *testing.T) {
	policy := DefaultRetryPolicy
	if policy.Exhausted(policy.MaxRetries) {
		t.Fatal("expected attempt at the limit to not be exhausted yet")
	}
	if !policy.Exhausted(policy.MaxRetries + 1) {
		t.Fatal("expected attempt beyond the limit to be exhausted")
	}
}

func TestNextAttemptDeadLettersAfterMaxRetries(t *testing.T) {
	e := Event{ID: "e1", Status: DeliveryPending}
	now := time.Now()
	for i := 0; i < DefaultRetryPolicy.MaxRetries; i++ {
		e = NextAttempt(e, DefaultRetryPolicy, now)
		if e.Status != DeliveryRetrying {
			t.Fatalf("expected retrying at attempt %d, got %s", e.Attempt, e.Status)
		}
	}
	e = NextAttempt(e, DefaultRetryPolicy, now)
	if e.Status != DeliveryDeadLetter {
		t.Fatalf("expected dead_letter after exhausting retries, got %s", e.Status)
	}
}

func TestDispatchBatchDeliversAndRetries(t *testing.T) {
	sinks := map[string]Sink{
		"s1": {ID: "s1", Kind: SinkWebhook, Target: "https://example.test/hook", Enabled: true},
	}
	events := []Event{
		{ID: "e1", SinkID: "s1", Status: DeliveryPending},
		{ID: "e2", SinkID: "s1", Status: DeliveryPending},
	}

	send := func(sink Sink, event Event) error {
		if event.ID == "e2" {
			return errors.New("delivery failed")
		}
		return nil
	}

	out := DispatchBatch(events, sinks, send, DefaultRetryPolicy, time.Now())
	if out[0].Status != DeliveryDelivered {
		t.Fatalf("expected e1 delivered, got %s", out[0].Status)
	}
	if out[1].Status != DeliveryRetrying || out[1].Attempt != 1 {
		t.Fatalf("expected e2 retrying with attempt=1, got status=%s attempt=%d", out[1].Status, out[1].Attempt)
	}
}

func TestDispatchBatchSkipsDisabledSink(t *testing.T) {
	sinks := map[string]Sink{"s1": {ID: "s1", Enabled: false}}
	events := []Event{{ID: "e1", SinkID: "s1", Status: DeliveryPending}}
	called := false
	send := func(sink Sink, event Event) error {
		called = true
		return nil
	}

	out := DispatchBatch(events, sinks, send, DefaultRetryPolicy, time.Now())
	if called {
		t.Fatal("expected send to be skipped for a disabled sink")
	}
	if out[0].Status != DeliveryPending {
		t.Fatalf("expected event to remain pending, got %s", out[0].Status)
	}
}
