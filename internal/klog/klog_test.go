package klog

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestComponentTagsOutputWithField(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, logrus.InfoLevel)
	lg := Component(root, "bufc")

	lg.Infof("evicted block %d", 3)

	out := buf.String()
	assert.Contains(t, out, "component=bufc")
	assert.Contains(t, out, "evicted block 3")
}

func TestLevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, logrus.WarnLevel)
	lg := Component(root, "chkfs")

	lg.Debugf("should not appear")
	lg.Warnf("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}
