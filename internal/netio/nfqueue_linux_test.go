//go:build linux

package netio

import (
	"bytes"
	"testing"
)

func TestAppendAttrRoundTrip(t *testing.T) {
	t.Parallel()

	value := []byte{0x01, 0x02, 0x03}
	buf := appendAttr(nil, nfqaPayload, value)

	// length(2) + type(2) + value, padded to 4-byte alignment.
	if len(buf) != 8 {
		t.Fatalf("len(buf) = %d, want 8", len(buf))
	}
	if !bytes.Equal(buf[4:7], value) {
		t.Errorf("attribute value = %v, want %v", buf[4:7], value)
	}
}

func TestBuildAndParseNetlinkMsg(t *testing.T) {
	t.Parallel()

	attrs := appendAttr(nil, nfqaCfgCmd, []byte{0x02, 0x00, 0x00, nfqnlCfgCmdBind})
	msg := buildNetlinkMsg(nfnlMsgType(nfnlSubsysQueue, nfqnlMsgConfig), 7, attrs)

	parsed, err := parseNetlinkMessages(msg)
	if err != nil {
		t.Fatalf("parseNetlinkMessages() error: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("len(parsed) = %d, want 1", len(parsed))
	}
	if parsed[0].subsys != nfnlSubsysQueue {
		t.Errorf("subsys = %d, want %d", parsed[0].subsys, nfnlSubsysQueue)
	}
	if parsed[0].msgType != nfqnlMsgConfig {
		t.Errorf("msgType = %d, want %d", parsed[0].msgType, nfqnlMsgConfig)
	}
}

func TestParsePacketMessageExtractsIDAndPayload(t *testing.T) {
	t.Parallel()

	hdrAttr := appendAttr(nil, nfqaPacketHdr, []byte{0x00, 0x00, 0x00, 0x2a})
	payloadAttr := appendAttr(nil, nfqaPayload, []byte{0xde, 0xad, 0xbe, 0xef})

	data := append(hdrAttr, payloadAttr...)

	id, ifindex, payload, ok := parsePacketMessage(data)
	if !ok {
		t.Fatal("parsePacketMessage() ok = false, want true")
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
	if ifindex != 0 {
		t.Errorf("ifindex = %d, want 0 (no NFQA_IFINDEX_INDEV attr present)", ifindex)
	}
	if !bytes.Equal(payload, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Errorf("payload = %v, want deadbeef", payload)
	}
}

func TestParsePacketMessageExtractsIfindex(t *testing.T) {
	t.Parallel()

	hdrAttr := appendAttr(nil, nfqaPacketHdr, []byte{0x00, 0x00, 0x00, 0x2a})
	ifaceAttr := appendAttr(nil, nfqaIfindexIndev, []byte{0x00, 0x00, 0x00, 0x03})
	payloadAttr := appendAttr(nil, nfqaPayload, []byte{0xde, 0xad, 0xbe, 0xef})

	data := append(append(hdrAttr, ifaceAttr...), payloadAttr...)

	id, ifindex, payload, ok := parsePacketMessage(data)
	if !ok {
		t.Fatal("parsePacketMessage() ok = false, want true")
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
	if ifindex != 3 {
		t.Errorf("ifindex = %d, want 3", ifindex)
	}
	if !bytes.Equal(payload, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Errorf("payload = %v, want deadbeef", payload)
	}
}

func TestVerdictHdrBytes(t *testing.T) {
	t.Parallel()

	b := verdictHdrBytes(nfAcceptVerdict, 99)
	if len(b) != 8 {
		t.Fatalf("len(b) = %d, want 8", len(b))
	}
	if b[7] != 99 {
		t.Errorf("encoded id low byte = %d, want 99", b[7])
	}
}
