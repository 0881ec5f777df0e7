package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "file",
			key:  NewKey("torvalds", "linux", "v6.1", KindFile, "kernel/sched/core.c"),
			want: "torvalds/linux/v6.1/file/kernel/sched/core.c",
		},
		{
			name: "directory with slashes",
			key:  NewKey("torvalds", "linux", "main", KindDirectory, "/kernel/"),
			want: "torvalds/linux/main/directory/kernel",
		},
		{
			name: "root directory",
			key:  NewKey("torvalds", "linux", "main", KindDirectory, ""),
			want: "torvalds/linux/main/directory/",
		},
		{
			name: "tags ignore path",
			key:  NewKey("torvalds", "linux", "main", KindTags, "ignored"),
			want: "torvalds/linux/main/tags/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.String())
		})
	}
}

func TestKind_Valid(t *testing.T) {
	assert.True(t, KindFile.Valid())
	assert.True(t, KindTags.Valid())
	assert.False(t, Kind("commit").Valid())
}
