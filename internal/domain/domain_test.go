package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhoneNumber(t *testing.T) {
	t.Run("Normalizes", func(t *testing.T) {
		n, err := NewPhoneNumber(" +1 (202) 555-1234 ")
		require.NoError(t, err)
		assert.Equal(t, PhoneNumber("+12025551234"), n)
		assert.Equal(t, "12025551234", n.Digits())
	})

	t.Run("EqualByDigits", func(t *testing.T) {
		a, _ := NewPhoneNumber("+12025551234")
		b, _ := NewPhoneNumber("12025551234")
		assert.True(t, a.Equal(b))
	})

	t.Run("Rejects", func(t *testing.T) {
		for _, raw := range []string{"", "abc", "+1", "12345678901234567", "12+34"} {
			_, err := NewPhoneNumber(raw)
			assert.ErrorIs(t, err, ErrInvalidInput, raw)
		}
	})
}

func TestFraudScoreRisk(t *testing.T) {
	cases := []struct {
		score float64
		want  RiskLevel
	}{
		{0.95, RiskCritical},
		{0.9, RiskCritical},
		{0.7, RiskHigh},
		{0.5, RiskMedium},
		{0.49, RiskLow},
		{-1, RiskLow},
		{2, RiskCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NewFraudScore(tc.score).Risk(), "score %v", tc.score)
	}
}

func TestDetectionValues(t *testing.T) {
	_, err := NewDetectionWindow(0)
	assert.ErrorIs(t, err, ErrConfiguration)

	w, err := NewDetectionWindow(5)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, w.Duration())

	_, err = NewDetectionThreshold(0, 10)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewDetectionThreshold(5, -1)
	assert.ErrorIs(t, err, ErrConfiguration)

	th, err := NewDetectionThreshold(5, 60)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, th.Cooldown())
}

func TestCallLifecycle(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("AnsweredThenCompleted", func(t *testing.T) {
		c := NewCall("call-1", "+111", "+222", "10.0.0.1", t0)
		require.NoError(t, c.Ring(t0.Add(time.Second)))
		require.NoError(t, c.Answer(t0.Add(2*time.Second)))
		require.NoError(t, c.Complete(t0.Add(62*time.Second)))

		d, ok := c.Duration()
		assert.True(t, ok)
		assert.Equal(t, 60*time.Second, d)
		assert.Equal(t, CallCompleted, c.Status)
	})

	t.Run("NoBackwardTransition", func(t *testing.T) {
		c := NewCall("call-2", "+111", "+222", "", t0)
		require.NoError(t, c.Answer(t0))
		err := c.Ring(t0)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)

		err = c.Fail(t0)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
	})

	t.Run("CompleteRequiresAnswer", func(t *testing.T) {
		c := NewCall("call-3", "+111", "+222", "", t0)
		assert.ErrorIs(t, c.Complete(t0), ErrInvalidStateTransition)
		require.NoError(t, c.Fail(t0.Add(time.Second)))
		_, ok := c.Duration()
		assert.False(t, ok)
	})

	t.Run("FlaggedKeepsTiming", func(t *testing.T) {
		c := NewCall("call-4", "+111", "+222", "", t0)
		require.NoError(t, c.FlagFraud("alert-1", t0))
		require.NoError(t, c.Answer(t0.Add(time.Second)))
		require.NoError(t, c.Complete(t0.Add(4*time.Second)))
		assert.Equal(t, CallFlaggedFraud, c.Status)
		d, ok := c.Duration()
		assert.True(t, ok)
		assert.Equal(t, 3*time.Second, d)

		assert.ErrorIs(t, c.FlagFraud("alert-2", t0), ErrInvalidStateTransition)
		assert.Equal(t, "alert-1", c.AlertID)
	})
}

func TestAlertLifecycle(t *testing.T) {
	now := time.Now()

	t.Run("AcknowledgeThenResolve", func(t *testing.T) {
		a := NewFraudAlert("+19876543210", FraudSIMBox, 6, 0.8, "rules", nil, nil, now)
		assert.Equal(t, AlertPending, a.Status)
		assert.Equal(t, RiskHigh, a.Risk)

		require.NoError(t, a.Acknowledge("analyst", now))
		assert.Equal(t, AlertAcknowledged, a.Status)
		require.NoError(t, a.Resolve("analyst", ResolutionConfirmed, "sim box gateway", now))
		assert.Equal(t, AlertResolved, a.Status)
	})

	t.Run("ResolveTwiceFails", func(t *testing.T) {
		a := NewFraudAlert("+19876543210", FraudSIMBox, 6, 0.8, "rules", nil, nil, now)
		require.NoError(t, a.Resolve("analyst", ResolutionFalsePositive, "", now))

		err := a.Resolve("analyst", ResolutionConfirmed, "", now)
		var ist *InvalidStateTransitionError
		require.True(t, errors.As(err, &ist))
		assert.Equal(t, "RESOLVED", ist.From)

		assert.ErrorIs(t, a.Acknowledge("analyst", now), ErrInvalidStateTransition)
		assert.Equal(t, ResolutionFalsePositive, a.Resolution)
	})

	t.Run("AcknowledgeTwiceFails", func(t *testing.T) {
		a := NewFraudAlert("+19876543210", FraudSIMBox, 6, 0.8, "rules", nil, nil, now)
		require.NoError(t, a.Acknowledge("a", now))
		assert.ErrorIs(t, a.Acknowledge("b", now), ErrInvalidStateTransition)
	})

	t.Run("UnknownResolution", func(t *testing.T) {
		a := NewFraudAlert("+19876543210", FraudSIMBox, 6, 0.8, "rules", nil, nil, now)
		assert.ErrorIs(t, a.Resolve("a", Resolution("MAYBE"), "", now), ErrConfiguration)
		assert.Equal(t, AlertPending, a.Status)
	})
}

func TestBlacklistEntryActive(t *testing.T) {
	now := time.Now()
	e := NewBlacklistEntry("10.0.0.1", "sim box", "", now, time.Hour)
	assert.True(t, e.Active(now.Add(59*time.Minute)))
	assert.False(t, e.Active(now.Add(time.Hour)))
}

func TestEventKey(t *testing.T) {
	a := NewFraudAlert("+19876543210", FraudSIMBox, 6, 0.8, "rules", nil, []string{"10.0.0.1"}, time.Now())
	ev := NewFraudDetectedEvent(a, time.Now())
	assert.Equal(t, EventFraudDetected, ev.Kind)
	assert.Equal(t, "+19876543210", ev.Key())
	assert.NotEmpty(t, ev.ID)

	b := NewBlacklistEntry("10.0.0.1", "sim box", a.ID, time.Now(), time.Hour)
	assert.Equal(t, "10.0.0.1", NewGatewayBlacklistedEvent(b, time.Now()).Key())
}

func TestAlertLifecycleEvents(t *testing.T) {
	now := time.Now()
	a := NewFraudAlert("+19876543210", FraudSIMBox, 6, 0.8, "rules", nil, nil, now)

	require.NoError(t, a.Acknowledge("analyst", now))
	ack := NewAlertAcknowledgedEvent(a, now)
	assert.Equal(t, EventAlertAcknowledged, ack.Kind)
	require.NotNil(t, ack.AlertAcknowledged)
	assert.Equal(t, "analyst", ack.AlertAcknowledged.By)
	assert.Nil(t, ack.AlertResolved)
	assert.Equal(t, "+19876543210", ack.Key())

	require.NoError(t, a.Resolve("lead", ResolutionConfirmed, "sim box gateway", now))
	res := NewAlertResolvedEvent(a, now)
	assert.Equal(t, EventAlertResolved, res.Kind)
	require.NotNil(t, res.AlertResolved)
	assert.Equal(t, ResolutionConfirmed, res.AlertResolved.Resolution)
	assert.Equal(t, "sim box gateway", res.AlertResolved.Notes)
	assert.Equal(t, a.ID, res.AlertResolved.AlertID)
	assert.Nil(t, res.AlertAcknowledged)
}

func TestNumberKey(t *testing.T) {
	assert.Equal(t, "12025551234", NumberKey("+1-202-555-1234"))
	assert.Equal(t, "12025551234", NumberKey("12025551234"))
	assert.Equal(t, "anonymous", NumberKey("anonymous"))
	assert.True(t, SameNumber("+12025551234", "+1 (202) 555-1234"))
	assert.False(t, SameNumber("+12025551234", "+12025551235"))
	assert.False(t, SameNumber("anonymous", "Anonymous"))
}
