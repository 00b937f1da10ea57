// Package ncp implements the framed control protocol spoken between the
// controller, its drivers and admin clients.
//
// Every frame starts with a 16-bit big-endian header: bit 15 marks raw data,
// bit 14 marks a continuation and the low 14 bits carry the payload length
// (at most [MaxFramePayload] bytes). A control message is a JSON object with
// a mandatory "__message__" field; payloads longer than one frame are split
// across continuation frames. A raw-data stream is a run of raw frames ending
// with the first raw frame that has no continuation bit.
//
// An [Engine] owns one connection. It performs the handshake, sends messages
// and raw streams, and drives a [Procedure] through [Engine.Process] until
// the procedure reports it is done. Errors and warnings of a call tree are
// collected in a [Result].
package ncp
