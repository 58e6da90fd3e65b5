package testutils

import (
	"bytes"
	"strings"
	"sync"
)

// LogBuffer collects log output written from many goroutines.
type LogBuffer struct {
	lock   sync.Mutex
	buffer bytes.Buffer
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.lock.Lock()
	defer lb.lock.Unlock()
	return lb.buffer.Write(p)
}

// Lines returns every complete line written so far.
func (lb *LogBuffer) Lines() []string {
	lb.lock.Lock()
	defer lb.lock.Unlock()
	lines := strings.Split(lb.buffer.String(), "\n")
	return lines[:len(lines)-1]
}

// Count is how many lines contain s.
func (lb *LogBuffer) Count(s string) int {
	n := 0
	for _, l := range lb.Lines() {
		if strings.Contains(l, s) {
			n++
		}
	}
	return n
}
