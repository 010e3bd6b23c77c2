// Package analytics summarizes persona feedback for chart rendering.
package analytics

import (
	"encoding/json"

	"github.com/ashureev/persona-lab/internal/domain"
)

// ImageCount is one bar of the image selection chart.
type ImageCount struct {
	URL   string `json:"url"`
	Count int    `json:"count"`
}

// Summary is the aggregate of a feedback list.
// ImageSelectionData is ordered by the first time each URL was seen.
type Summary struct {
	ImageSelectionData []ImageCount `json:"imageSelectionData"`
	ErrorCount         int          `json:"errorCount"`
	TotalRecords       int          `json:"totalRecords"`
}

// Counts returns the selection counts keyed by URL.
func (s Summary) Counts() map[string]int {
	out := make(map[string]int, len(s.ImageSelectionData))
	for _, c := range s.ImageSelectionData {
		out[c.URL] = c.Count
	}
	return out
}

type counter struct {
	index   map[string]int
	summary Summary
}

func newCounter(n int) *counter {
	return &counter{
		index:   make(map[string]int),
		summary: Summary{ImageSelectionData: []ImageCount{}, TotalRecords: n},
	}
}

func (c *counter) add(url string) {
	c.addN(url, 1)
}

func (c *counter) addN(url string, n int) {
	if url == "" || n <= 0 {
		return
	}
	if i, ok := c.index[url]; ok {
		c.summary.ImageSelectionData[i].Count += n
		return
	}
	c.index[url] = len(c.summary.ImageSelectionData)
	c.summary.ImageSelectionData = append(c.summary.ImageSelectionData, ImageCount{URL: url, Count: n})
}

// Aggregate counts image selections across raw feedback records.
// Records that cannot be read as feedback count toward ErrorCount. Records
// without a selected image are skipped and are not errors.
func Aggregate(records []json.RawMessage) Summary {
	c := newCounter(len(records))
	for _, raw := range records {
		f, err := domain.ParseFeedback(raw)
		if err != nil {
			c.summary.ErrorCount++
			continue
		}
		c.add(f.SelectedImageURL)
	}
	return c.summary
}

// AggregateFeedbacks counts image selections across typed feedback.
func AggregateFeedbacks(feedbacks []domain.Feedback) Summary {
	c := newCounter(len(feedbacks))
	for _, f := range feedbacks {
		c.add(f.SelectedImageURL)
	}
	return c.summary
}

// Merge appends other's counts to s. URLs first seen in other keep their
// order after those of s.
func (s Summary) Merge(other Summary) Summary {
	c := newCounter(s.TotalRecords + other.TotalRecords)
	c.summary.ErrorCount = s.ErrorCount + other.ErrorCount
	for _, data := range [][]ImageCount{s.ImageSelectionData, other.ImageSelectionData} {
		for _, ic := range data {
			c.addN(ic.URL, ic.Count)
		}
	}
	return c.summary
}
