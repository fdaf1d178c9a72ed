package standard

import (
	"context"
	"errors"

	"github.com/golang/glog"

	"github.com/robotalks/modlink/pkg/modlink"
)

// Interrogate asks the module where it placed the commands of an
// interface and registers them with the module. It returns false if the
// module doesn't know the interface.
func Interrogate(ctx context.Context, m *modlink.Module, iface *modlink.InterfaceDescriptor) (bool, error) {
	query := NewQueryInterface(m, iface.Name())
	// a simulated module supports all the commands we know about
	query.PretendResponse().(*QueryInterfaceResponse).NumberOfCommands = uint16(iface.CommandCount())

	resp, err := query.SendReceive(ctx)
	if err != nil {
		var nackErr *modlink.NackError
		if errors.As(err, &nackErr) && !nackErr.IsTimeout() {
			glog.V(1).Infof("mod#=%d queryInterface(%s) rejected: %s", m.Address(), iface.Name(), nackErr.Reason)
			iface.MarkRejected()
			return false, nil
		}
		return false, err
	}

	r := resp.(*QueryInterfaceResponse)
	iface.AssignBaseCommandNumber(r.CommandNumberFirst)
	glog.V(2).Infof("mod#=%d queryInterface(%s)=%d commands starting at %d", m.Address(), iface.Name(), r.NumberOfCommands, r.CommandNumberFirst)
	m.RegisterInterface(iface, int(r.NumberOfCommands))
	return true, nil
}
