package testing

import (
	"context"

	"github.com/google/uuid"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/channel"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/client"
)

// NewKernelClient assembles a KernelClient backed by a FakeKernel from the factory and a FakeProcess.
func NewKernelClient(ctx context.Context, factory *FakeKernelFactory, specName string, connectionFile string,
	opts client.KernelClientOptions) (*client.KernelClient, *FakeKernel, *FakeProcess) {

	identity := uuid.NewString()
	info := &jupyter.ConnectionInfo{IP: "127.0.0.1", Transport: "tcp", KernelName: specName}

	channels, err := channel.NewSet(factory, identity, info)
	if err != nil {
		panic(err)
	}

	process := NewFakeProcess(4242)
	kernel := client.NewKernelClient(ctx, identity, specName, info, connectionFile, process, channels, opts)
	return kernel, factory.Kernel(identity), process
}
