package descriptor

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/mesh-intelligence/zargo/pkg/types"
)

// Write emits a unified descriptor document declaring hdr and refs.
func Write(w io.Writer, hdr types.Header, refs []types.MemberRef) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, `<?xml version="1.0" encoding="UTF-8"?>`)
	fmt.Fprintln(bw, `<!DOCTYPE argo SYSTEM "argo.dtd" >`)
	fmt.Fprintf(bw, "<%s %s=\"%d\" %s=\"%s\">\n", rootElement, versionAttr, hdr.PersistenceVersion, releaseAttr, escape(hdr.Release))
	fmt.Fprintf(bw, "  <%s>\n    <%s>%s</%s>\n  </%s>\n", docElement, versionElement, escape(hdr.Release), versionElement, docElement)
	for _, ref := range refs {
		fmt.Fprintf(bw, "  <%s %s=\"%s\" %s=\"%s\" />\n", memberElement, typeAttr, escape(ref.Type), nameAttr, escape(ref.Name))
	}
	fmt.Fprintf(bw, "</%s>\n", rootElement)
	return bw.Flush()
}

// Name returns the descriptor entry name for an archive file name:
// "model.zargo" becomes "model.argo".
func Name(archiveBase string) string {
	base := archiveBase
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base + "." + types.DescriptorExt
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
