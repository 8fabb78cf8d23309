// Package batchmeta extracts job-level metadata from a chunk's metadata blob.
//
// The blob is the BOINC workunit xml_doc, which often holds several XML
// fragments back to back and is not a well-formed document. Extraction is
// therefore pattern based and forgiving: each field is located on its own, and
// a missing or malformed field never prevents the others from being read.
//
// The recognized block looks like:
//
//	<ai_batch>
//	  <job_id>job-42</job_id>
//	  <input_uri>s3://bucket/in/</input_uri>
//	  <output_uri>s3://bucket/out/</output_uri>
//	  <container_image>registry/img:tag</container_image>
//	  <worker_label>edge</worker_label>
//	  <chunk_id>3</chunk_id>
//	  <chunk_range start="0" end="999"/>
//	</ai_batch>
//
// The chunk range may also be nested: <chunk_range><start>0</start><end>999</end></chunk_range>.
package batchmeta

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Range is an inclusive index range. End < Start denotes an empty range.
type Range struct {
	Start int64 `json:"start" yaml:"start"`
	End   int64 `json:"end" yaml:"end"`
}

// Size returns the number of indexes covered by r.
func (r Range) Size() int64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Meta is the typed view of an <ai_batch> block.
//
// Empty strings mean absent. ChunkID and ChunkRange are nil when absent so
// that an explicit chunk 0 is distinguishable from no chunk id at all.
type Meta struct {
	JobID          string
	InputURI       string
	OutputURI      string
	ContainerImage string
	WorkerLabel    string
	ChunkID        *int64
	ChunkRange     *Range
}

// InvalidChunkID is reported when a chunk_id tag is present but not an integer.
const InvalidChunkID int64 = -1

const blockTag = "ai_batch"

var (
	blockRe     = regexp.MustCompile(`(?is)<` + blockTag + `>(.*?)</` + blockTag + `>`)
	rangeAttrRe = regexp.MustCompile(`(?i)<chunk_range[^>]*\bstart="(\d+)"[^>]*\bend="(\d+)"[^>]*/?>`)

	tagPatterns = compileTags("job_id", "input_uri", "output_uri", "container_image", "worker_label", "chunk_id", "start", "end")
)

func compileTags(tags ...string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(tags))
	for _, tag := range tags {
		q := regexp.QuoteMeta(tag)
		out[tag] = regexp.MustCompile(`(?is)<` + q + `>(.*?)</` + q + `>`)
	}
	return out
}

// Extract parses blob and returns whatever metadata it can find.
// It never fails; a blob without an <ai_batch> block yields a zero Meta.
func Extract(blob string) Meta {
	block, ok := findBlock(blob)
	if !ok {
		return Meta{}
	}

	meta := Meta{
		JobID:          findTag(block, "job_id"),
		InputURI:       findTag(block, "input_uri"),
		OutputURI:      findTag(block, "output_uri"),
		ContainerImage: findTag(block, "container_image"),
		WorkerLabel:    findTag(block, "worker_label"),
	}

	if raw, found := lookupTag(block, "chunk_id"); found {
		id := parseIntOr(raw, InvalidChunkID)
		meta.ChunkID = &id
	}

	if r, found := findChunkRange(block); found {
		meta.ChunkRange = &r
	}

	return meta
}

func findBlock(blob string) (string, bool) {
	if blob == "" {
		return "", false
	}
	m := blockRe.FindStringSubmatch(blob)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// findTag returns the trimmed text of the first <tag>..</tag>, or "".
func findTag(text, tag string) string {
	v, _ := lookupTag(text, tag)
	return v
}

func lookupTag(text, tag string) (string, bool) {
	re, ok := tagPatterns[tag]
	if !ok || text == "" {
		return "", false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return html.UnescapeString(strings.TrimSpace(m[1])), true
}

func findChunkRange(block string) (Range, bool) {
	if m := rangeAttrRe.FindStringSubmatch(block); m != nil {
		start, err1 := strconv.ParseInt(m[1], 10, 64)
		end, err2 := strconv.ParseInt(m[2], 10, 64)
		if err1 == nil && err2 == nil {
			return Range{Start: start, End: end}, true
		}
	}

	start, okStart := lookupTag(block, "start")
	end, okEnd := lookupTag(block, "end")
	if okStart && okEnd {
		return Range{Start: parseIntOr(start, 0), End: parseIntOr(end, 0)}, true
	}
	return Range{}, false
}

func parseIntOr(s string, def int64) int64 {
	s = strings.TrimPrefix(strings.TrimSpace(s), "+")
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}
