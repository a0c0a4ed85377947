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

// Package remote is the thin in-process remote-write/remote-read adapter
// spec §1 assumes exists at the storage engine's boundary: it decodes the
// snappy-framed protobuf bodies spec §6 describes and translates them to
// and from db.Database calls. The full HTTP front end (routing, request
// parsing) stays out of core, per spec §1's explicit Non-goal.
//
// The message shapes below mirror teacher's own prompb/rpc.pb.go
// generation style (plain structs with protobuf struct tags, value-typed
// nested message slices such as SeriesDeleteRequest.Matchers) so
// github.com/gogo/protobuf/proto can marshal and unmarshal them by
// reflection with no codegen step.
package remote

import "fmt"

// Label is one (name, value) pair on the wire.
type Label struct {
	Name  string `protobuf:"bytes,1,opt,name=name" json:"name,omitempty"`
	Value string `protobuf:"bytes,2,opt,name=value" json:"value,omitempty"`
}

func (m *Label) Reset()         { *m = Label{} }
func (m *Label) String() string { return fmt.Sprintf("%+v", *m) }
func (*Label) ProtoMessage()    {}

// Sample is one (value, timestamp) pair. Timestamp is signed on the wire;
// the adapter coerces it to the engine's unsigned Timestamp (spec §6).
type Sample struct {
	Value     float64 `protobuf:"fixed64,1,opt,name=value" json:"value,omitempty"`
	Timestamp int64   `protobuf:"varint,2,opt,name=timestamp" json:"timestamp,omitempty"`
}

func (m *Sample) Reset()         { *m = Sample{} }
func (m *Sample) String() string { return fmt.Sprintf("%+v", *m) }
func (*Sample) ProtoMessage()    {}

// TimeSeries is one label set with its samples, the unit both
// WriteRequest and QueryResult carry.
type TimeSeries struct {
	Labels  []Label  `protobuf:"bytes,1,rep,name=labels" json:"labels"`
	Samples []Sample `protobuf:"bytes,2,rep,name=samples" json:"samples"`
}

func (m *TimeSeries) Reset()         { *m = TimeSeries{} }
func (m *TimeSeries) String() string { return fmt.Sprintf("%+v", *m) }
func (*TimeSeries) ProtoMessage()    {}

// WriteRequest is the remote-write request body.
type WriteRequest struct {
	Timeseries []TimeSeries `protobuf:"bytes,1,rep,name=timeseries" json:"timeseries"`
}

func (m *WriteRequest) Reset()         { *m = WriteRequest{} }
func (m *WriteRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*WriteRequest) ProtoMessage()    {}

// MatchType enumerates label-matcher kinds. The storage engine's core
// only exposes exact label+time-range scans (spec §1), so MatchEq is the
// only kind the adapter accepts; anything else fails at the boundary
// rather than being silently downgraded to an exact match.
type MatchType int32

const (
	MatchEq MatchType = 0
)

// LabelMatcher selects series by one label. Grounded on the original
// source's server.rs, which maps each query matcher through
// Label::from_label_matcher before handing the resulting Labels to the
// database.
type LabelMatcher struct {
	Type  MatchType `protobuf:"varint,1,opt,name=type" json:"type,omitempty"`
	Name  string    `protobuf:"bytes,2,opt,name=name" json:"name,omitempty"`
	Value string    `protobuf:"bytes,3,opt,name=value" json:"value,omitempty"`
}

func (m *LabelMatcher) Reset()         { *m = LabelMatcher{} }
func (m *LabelMatcher) String() string { return fmt.Sprintf("%+v", *m) }
func (*LabelMatcher) ProtoMessage()    {}

// Query is one label+time-range scan request.
type Query struct {
	StartTimestampMs int64          `protobuf:"varint,1,opt,name=start_timestamp_ms,json=startTimestampMs" json:"start_timestamp_ms,omitempty"`
	EndTimestampMs   int64          `protobuf:"varint,2,opt,name=end_timestamp_ms,json=endTimestampMs" json:"end_timestamp_ms,omitempty"`
	Matchers         []LabelMatcher `protobuf:"bytes,3,rep,name=matchers" json:"matchers"`
}

func (m *Query) Reset()         { *m = Query{} }
func (m *Query) String() string { return fmt.Sprintf("%+v", *m) }
func (*Query) ProtoMessage()    {}

// ReadRequest is the remote-read request body: one or more Query entries.
type ReadRequest struct {
	Queries []Query `protobuf:"bytes,1,rep,name=queries" json:"queries"`
}

func (m *ReadRequest) Reset()         { *m = ReadRequest{} }
func (m *ReadRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*ReadRequest) ProtoMessage()    {}

// QueryResult carries the series matched by one Query.
type QueryResult struct {
	Timeseries []TimeSeries `protobuf:"bytes,1,rep,name=timeseries" json:"timeseries"`
}

func (m *QueryResult) Reset()         { *m = QueryResult{} }
func (m *QueryResult) String() string { return fmt.Sprintf("%+v", *m) }
func (*QueryResult) ProtoMessage()    {}

// ReadResponse is the remote-read response body: one QueryResult per
// Query in the request, in the same order.
type ReadResponse struct {
	Results []QueryResult `protobuf:"bytes,1,rep,name=results" json:"results"`
}

func (m *ReadResponse) Reset()         { *m = ReadResponse{} }
func (m *ReadResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*ReadResponse) ProtoMessage()    {}
