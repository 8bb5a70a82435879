package kernel

import (
	"bytes"
	"encoding/binary"
	"time"

	"tinykern/pkg/process"
)

// TimeVal is the record written by get_time.
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

// TimeValSize is the encoded size of a TimeVal.
const TimeValSize = 16

// NewTimeVal splits d into seconds and microseconds.
func NewTimeVal(d time.Duration) TimeVal {
	us := uint64(d / time.Microsecond)
	return TimeVal{Sec: us / 1_000_000, Usec: us % 1_000_000}
}

// Duration converts tv back to a duration.
func (tv TimeVal) Duration() time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}

// TaskInfo is the record written by task_info.
type TaskInfo struct {
	Status       process.TaskStatus
	SyscallTimes [process.MaxSyscallNum]uint32
	_            uint32
	// Time is the number of milliseconds since the task first ran.
	Time uint64
}

// TaskInfoSize is the encoded size of a TaskInfo.
const TaskInfoSize = 4 + 4*process.MaxSyscallNum + 4 + 8

// encodeRecord lays v out little-endian, as user programs read it.
func encodeRecord(v any) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		panic("kernel: encode record: " + err.Error())
	}
	return buf.Bytes()
}

// DecodeTimeVal parses a TimeVal written by get_time.
func DecodeTimeVal(b []byte) (TimeVal, error) {
	var tv TimeVal
	err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &tv)
	return tv, err
}

// DecodeTaskInfo parses a TaskInfo written by task_info.
func DecodeTaskInfo(b []byte) (TaskInfo, error) {
	var ti TaskInfo
	err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &ti)
	return ti, err
}
