package worker

import (
	"bufio"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/types"
)

func decodeAll(t *testing.T, d *Decoder, out *bytes.Buffer) []models.ProgressUpdate {
	t.Helper()
	var updates []models.ProgressUpdate
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		u, tagged, err := d.Decode(scanner.Text())
		require.True(t, tagged, scanner.Text())
		require.NoError(t, err)
		updates = append(updates, *u)
	}
	return updates
}

func testLead(url, phone string, price int64) *models.Lead {
	lead := &models.Lead{Status: types.LeadNew, VehicleTitle: "Nissan Patrol", AskingPrice: &price, ListingURL: url}
	if phone != "" {
		lead.PhoneNumber = &phone
	}
	return lead
}

func TestEmitter_ProtocolRoundTrip(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	d := NewDecoder("")
	e := NewEmitter(&out, d)

	e.Begin(ctx, 3, "found 3 candidate listings")

	outcome, err := e.Insert(ctx, testLead("https://example/a", "0501234567", 85000))
	require.NoError(t, err)
	assert.Equal(t, storage.Inserted, outcome)
	e.Advance(ctx, true, "processed 1/3: accepted")

	e.Advance(ctx, false, "processed 2/3: failed")

	outcome, err = e.Insert(ctx, testLead("https://example/c", "0501234567", 90000))
	require.NoError(t, err)
	assert.Equal(t, storage.Duplicate, outcome)
	e.Advance(ctx, false, "processed 3/3: duplicate")

	e.Finish(ctx, types.JobFinished, "completed: 1 new leads from 3 listings")
	e.Finish(ctx, types.JobError, "ignored")
	e.Advance(ctx, true, "ignored")

	updates := decodeAll(t, d, &out)
	require.Len(t, updates, 5)

	assert.Equal(t, "running", updates[0].Status)
	assert.Zero(t, updates[0].Processed)

	require.NotNil(t, updates[1].LeadCandidate)
	assert.Equal(t, "https://example/a", updates[1].LeadCandidate.ListingURL)
	assert.Equal(t, "85000", updates[1].LeadCandidate.Price)
	assert.Equal(t, "0501234567", updates[1].LeadCandidate.PhoneNumber)
	assert.Equal(t, 1, updates[1].SuccessfulLeads)

	assert.Nil(t, updates[2].LeadCandidate)
	assert.Equal(t, 2, updates[2].Processed)
	assert.Nil(t, updates[3].LeadCandidate)

	last := updates[4]
	status, ok := MapStatus(last.Status)
	require.True(t, ok)
	assert.Equal(t, types.JobFinished, status)
	assert.Equal(t, 3, last.Processed)
	assert.Equal(t, 1, last.SuccessfulLeads)
	assert.Equal(t, types.JobFinished, e.Final())
}

func TestEmitter_SessionDedupe(t *testing.T) {
	ctx := context.Background()
	e := NewEmitter(&bytes.Buffer{}, nil)

	_, err := e.Insert(ctx, testLead("https://example/a", "0501234567", 1))
	require.NoError(t, err)

	byPhone, _ := e.ExistsByPhone(ctx, "0501234567")
	byURL, _ := e.ExistsByURL(ctx, "https://example/a")
	other, _ := e.ExistsByURL(ctx, "https://example/b")
	assert.True(t, byPhone)
	assert.True(t, byURL)
	assert.False(t, other)

	outcome, _ := e.Insert(ctx, testLead("https://example/a", "", 1))
	assert.Equal(t, storage.Duplicate, outcome)

	// leads without a phone only collide on the listing
	outcome, _ = e.Insert(ctx, testLead("https://example/b", "", 1))
	assert.Equal(t, storage.Inserted, outcome)
}

func TestEmitter_ErrorFinish(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	d := NewDecoder("TAG:")
	e := NewEmitter(&out, d)

	e.Finish(ctx, types.JobRunning, "not terminal")
	assert.Empty(t, e.Final())

	e.Finish(ctx, types.JobError, "failed to start browser")
	updates := decodeAll(t, d, &out)
	require.Len(t, updates, 1)
	assert.Equal(t, "error", updates[0].Status)
	assert.Equal(t, "failed to start browser", updates[0].Message)
}

func TestEmitter_ObserveKeepsCounts(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	d := NewDecoder("")
	e := NewEmitter(&out, d)

	e.Observe(ctx, 4, false, "batch")
	e.Observe(ctx, 2, false, "late")

	updates := decodeAll(t, d, &out)
	require.Len(t, updates, 2)
	assert.Equal(t, 4, updates[1].Processed)
}
