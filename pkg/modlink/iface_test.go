package modlink

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterfaceDescriptor(t *testing.T) {
	readResp := &ResponseType{Name: "ReadResponse"}
	statusResp := &ResponseType{Name: "StatusResponse"}
	read := &CommandType{Name: "Read", Response: readResp}
	write := &CommandType{Name: "Write"}
	status := &CommandType{Name: "Status", Response: statusResp}
	iface := NewInterface("Test", read, nil, write, nil, status)
	iface.AssignBaseCommandNumber(0x1000)

	testCases := []struct {
		name    string
		command *CommandType
		index   int
		number  uint16
	}{
		{"first", read, 0, 0x1000},
		{"after placeholder", write, 2, 0x1002},
		{"last", status, 4, 0x1004},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			i, err := iface.CommandIndex(tc.command)
			require.NoError(t, err)
			require.Equal(t, tc.index, i)
			n, err := iface.CommandNumber(tc.command)
			require.NoError(t, err)
			require.Equal(t, tc.number, n)
			require.Equal(t, tc.command, iface.CommandAt(tc.index))
		})
	}

	i, err := iface.ResponseIndex(statusResp)
	require.NoError(t, err)
	require.Equal(t, 4, i)
	i, err = iface.ResponseIndex(readResp)
	require.NoError(t, err)
	require.Equal(t, 0, i)

	require.Equal(t, "Test", iface.Name())
	require.Equal(t, 5, iface.CommandCount())
	require.Nil(t, iface.CommandAt(1))
	require.Nil(t, iface.CommandAt(5))
	require.Nil(t, iface.CommandAt(-1))
	require.Equal(t, uint16(0x1003), iface.AbsoluteCommandNumber(3))

	slots := iface.Slots()
	slots[0] = nil
	require.Equal(t, read, iface.CommandAt(0))
}

func TestInterfaceDescriptorUnregistered(t *testing.T) {
	iface := NewInterface("Test", &CommandType{Name: "Read"})
	var perr *ProgrammingError

	_, err := iface.CommandIndex(&CommandType{Name: "Read"})
	require.True(t, errors.As(err, &perr))
	_, err = iface.CommandNumber(nil)
	require.True(t, errors.As(err, &perr))
	_, err = iface.ResponseIndex(&ResponseType{Name: "Other"})
	require.True(t, errors.As(err, &perr))
	_, err = iface.ResponseIndex(nil)
	require.True(t, errors.As(err, &perr))
}

func TestInterfaceDescriptorRejected(t *testing.T) {
	iface := NewInterface("Test")
	require.False(t, iface.WasRejected())
	iface.MarkRejected()
	require.True(t, iface.WasRejected())
	require.Zero(t, iface.BaseCommandNumber())
}
