package batchmeta

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Render writes m as an <ai_batch> block that Extract reads back unchanged.
//
// Absent fields are omitted. Ranges with a negative bound use the nested
// form, since the attribute form only carries unsigned digits.
func Render(m Meta) string {
	var b strings.Builder
	b.WriteString("<" + blockTag + ">\n")

	writeTag(&b, "job_id", m.JobID)
	writeTag(&b, "input_uri", m.InputURI)
	writeTag(&b, "output_uri", m.OutputURI)
	writeTag(&b, "container_image", m.ContainerImage)
	writeTag(&b, "worker_label", m.WorkerLabel)
	if m.ChunkID != nil {
		writeTag(&b, "chunk_id", strconv.FormatInt(*m.ChunkID, 10))
	}
	if r := m.ChunkRange; r != nil {
		start := strconv.FormatInt(r.Start, 10)
		end := strconv.FormatInt(r.End, 10)
		if r.Start >= 0 && r.End >= 0 {
			b.WriteString(`  <chunk_range start="` + start + `" end="` + end + `"/>` + "\n")
		} else {
			b.WriteString("  <chunk_range><start>" + start + "</start><end>" + end + "</end></chunk_range>\n")
		}
	}

	b.WriteString("</" + blockTag + ">")
	return b.String()
}

func writeTag(b *strings.Builder, tag, value string) {
	if value == "" {
		return
	}
	b.WriteString("  <" + tag + ">")
	_ = xml.EscapeText(b, []byte(value))
	b.WriteString("</" + tag + ">\n")
}
