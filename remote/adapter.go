// Copyright 2017 The Prometheus Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package remote

import (
	"context"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"

	"github.com/flowmetric/tsdb/chunk"
	"github.com/flowmetric/tsdb/chunkenc"
	"github.com/flowmetric/tsdb/db"
	"github.com/flowmetric/tsdb/errs"
	"github.com/flowmetric/tsdb/labels"
)

// Adapter translates decoded remote-write/remote-read bodies into
// db.Database calls. It is deliberately thin: the HTTP framing that
// produces these bodies is out of core (spec §1).
type Adapter struct {
	db *db.Database
}

// NewAdapter returns an Adapter bound to d.
func NewAdapter(d *db.Database) *Adapter {
	return &Adapter{db: d}
}

// Write decodes a snappy-framed, protobuf-encoded WriteRequest body and
// inserts every series' samples, one db.WritePoints call per series.
func (a *Adapter) Write(ctx context.Context, body []byte) error {
	raw, err := snappy.Decode(nil, body)
	if err != nil {
		return errs.Parse(err, "remote: snappy decode write request")
	}
	var req WriteRequest
	if err := proto.Unmarshal(raw, &req); err != nil {
		return errs.Parse(err, "remote: protobuf decode write request")
	}

	for _, ts := range req.Timeseries {
		points := make([]chunkenc.TimePoint, len(ts.Samples))
		for i, s := range ts.Samples {
			// Samples carry signed timestamps on the wire; the engine's
			// Timestamp is unsigned (spec §6: "coerced to unsigned").
			points[i] = chunkenc.TimePoint{Ts: uint64(s.Timestamp), Value: s.Value}
		}
		if err := a.db.WritePoints(ctx, toLabels(ts.Labels), points); err != nil {
			return err
		}
	}
	return nil
}

// Read decodes a snappy-framed, protobuf-encoded ReadRequest body, runs
// each query's label+time-range scan, and returns the snappy-framed,
// protobuf-encoded ReadResponse body.
func (a *Adapter) Read(ctx context.Context, body []byte) ([]byte, error) {
	raw, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, errs.Parse(err, "remote: snappy decode read request")
	}
	var req ReadRequest
	if err := proto.Unmarshal(raw, &req); err != nil {
		return nil, errs.Parse(err, "remote: protobuf decode read request")
	}

	resp := ReadResponse{Results: make([]QueryResult, len(req.Queries))}
	for i, q := range req.Queries {
		ls, err := toMatchLabels(q.Matchers)
		if err != nil {
			return nil, err
		}
		series, err := a.db.Query(ctx, ls, uint64(q.StartTimestampMs), uint64(q.EndTimestampMs))
		if err != nil {
			return nil, err
		}
		resp.Results[i] = QueryResult{Timeseries: fromSeries(series)}
	}

	out, err := proto.Marshal(&resp)
	if err != nil {
		return nil, errs.Parse(err, "remote: protobuf encode read response")
	}
	return snappy.Encode(nil, out), nil
}

func toLabels(ls []Label) labels.Labels {
	out := make(labels.Labels, len(ls))
	for i, l := range ls {
		out[i] = labels.Label{Name: l.Name, Value: l.Value}
	}
	return out
}

// toMatchLabels converts a query's matchers into an exact Labels set.
// Fails with Option if any matcher isn't an equality match: the core only
// exposes exact label+time-range scans (spec §1), grounded on the
// original source's server.rs mapping each matcher through
// Label::from_label_matcher before querying the database.
func toMatchLabels(matchers []LabelMatcher) (labels.Labels, error) {
	out := make(labels.Labels, len(matchers))
	for i, m := range matchers {
		if m.Type != MatchEq {
			return nil, errs.Option("remote: unsupported matcher type %d for label %q", m.Type, m.Name)
		}
		out[i] = labels.Label{Name: m.Name, Value: m.Value}
	}
	return out, nil
}

func fromSeries(series []chunk.TimeSeries) []TimeSeries {
	out := make([]TimeSeries, len(series))
	for i, s := range series {
		lbls := make([]Label, len(s.Labels))
		for j, l := range s.Labels {
			lbls[j] = Label{Name: l.Name, Value: l.Value}
		}
		samples := make([]Sample, len(s.Points))
		for j, p := range s.Points {
			samples[j] = Sample{Value: p.Value, Timestamp: int64(p.Ts)}
		}
		out[i] = TimeSeries{Labels: lbls, Samples: samples}
	}
	return out
}
