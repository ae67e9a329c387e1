package boot

import (
	"bytes"
	"errors"
	"time"
)

// initialBlocksize is the starting pipeline depth (in quads) for a page
// write; it halves on error down to 1 before the page is abandoned.
const initialBlocksize = 64

// programPage implements §4.5 "Program one page": right-pad to pagesize,
// then stream quads in blocks of blocksize (starting at 64), halving on
// error, falling back to single-quad requests once blocksize reaches 1.
func (s *Session) programPage(page uint16, pagesize uint16, segment []byte, addressAlreadySet bool) error {
	padded := rightPad(segment, int(pagesize))
	remaining := int(pagesize / 4)
	blocksize := initialBlocksize
	offset := 0
	var lastResp *Message

	for remaining > 0 {
		if !addressAlreadySet {
			if _, err := s.SendDefault(SetAddress, setAddressPayload(page, uint8(offset))); err != nil {
				return err
			}
		}

		if blocksize > remaining {
			blocksize = remaining
		}

		var resp *Message
		var err error
		if blocksize == 1 {
			quad := padded[offset*4 : offset*4+4]
			resp, err = s.SendDefault(Data, quad)
		} else {
			resp, err = s.sendBlock(padded, offset, blocksize)
		}

		if err != nil {
			if !isBlockError(err) {
				return err
			}
			if blocksize > 1 {
				// Buffer position on the target is lost once a block is
				// interrupted, so the next attempt must re-send SET_ADDRESS.
				blocksize /= 2
				addressAlreadySet = false
				time.Sleep(300 * time.Millisecond)
				continue
			}
			return &PageWriteFailed{Page: page}
		}

		lastResp = resp
		remaining -= blocksize
		offset += blocksize
		addressAlreadySet = true
	}

	if lastResp == nil || len(lastResp.Data) < 2 {
		return &PageWriteFailed{Page: page}
	}
	gotPage := uint16(lastResp.Data[0])<<8 | uint16(lastResp.Data[1])
	if gotPage != page {
		return &PageWriteFailed{Page: page}
	}
	return nil
}

// sendBlock pipelines a blocksize-frame run of DATA messages: every frame
// but the last is fire-and-forget, with a strictly decreasing countdown in
// data_counter; the last frame expects the target's block acknowledgement.
func (s *Session) sendBlock(padded []byte, offset, blocksize int) (*Message, error) {
	for i := 0; i < blocksize-1; i++ {
		var counter uint8
		if i == 0 {
			counter = StartOfMessageMask | uint8(blocksize-1)
		} else {
			counter = uint8(blocksize - 1 - i)
		}
		quad := padded[(offset+i)*4 : (offset+i)*4+4]
		if _, err := s.Send(Data, quad, counter, false, s.defaultTimeout, s.defaultMaxAttempts); err != nil {
			return nil, err
		}
	}
	lastQuad := padded[(offset+blocksize-1)*4 : (offset+blocksize-1)*4+4]
	return s.Send(Data, lastQuad, 0, true, s.defaultTimeout, s.defaultMaxAttempts)
}

// verifyPage implements §4.5 "Verify one page": read back each quad via
// READ_FLASH and compare to the (right-padded) expected content.
func (s *Session) verifyPage(page uint16, pagesize uint16, segment []byte) error {
	padded := rightPad(segment, int(pagesize))
	quads := int(pagesize / 4)
	for offset := 0; offset < quads; offset++ {
		resp, err := s.SendDefault(ReadFlash, setAddressPayload(page, uint8(offset)))
		if err != nil {
			return err
		}
		want := padded[offset*4 : offset*4+4]
		if resp == nil || len(resp.Data) < 4 || !bytes.Equal(resp.Data[:4], want) {
			return &PageVerifyFailed{Page: page}
		}
	}
	return nil
}

func setAddressPayload(page uint16, quadOffset uint8) []byte {
	return []byte{byte(page >> 8), byte(page & 0xFF), 0, quadOffset}
}

func rightPad(data []byte, size int) []byte {
	out := make([]byte, size)
	n := copy(out, data)
	for i := n; i < size; i++ {
		out[i] = 0xFF
	}
	return out
}

// isBlockError reports whether err is the kind of protocol failure that
// blocksize backoff recovers from (an explicit ERROR reply, or an exhausted
// retry loop), as opposed to a transport-level error from the bus itself.
func isBlockError(err error) bool {
	var protoErr *ProtocolError
	var noResp *NoResponse
	return errors.As(err, &protoErr) || errors.As(err, &noResp)
}
