package client_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/channel"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/client"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
	testutil "github.com/scusemua/notebook-kernel-manager/common/testing"
)

var _ = Describe("Kernel Client", func() {
	var (
		factory        *testutil.FakeKernelFactory
		connectionFile string
		opts           client.KernelClientOptions
	)

	BeforeEach(func() {
		factory = testutil.NewFakeKernelFactory()
		factory.SetLanguage("python3", &messaging.LanguageInfo{Name: "python", Version: "3.11.4"})

		connectionFile = filepath.Join(GinkgoT().TempDir(), "kernel-python3-1.json")
		Expect(os.WriteFile(connectionFile, []byte("{}"), 0600)).To(Succeed())

		opts = client.KernelClientOptions{ShutdownGracePeriod: 200 * time.Millisecond}
	})

	It("Will request the kernel info over shell", func() {
		kernel, fake, _ := testutil.NewKernelClient(context.Background(), factory, "python3", connectionFile, opts)
		defer kernel.Shutdown(context.Background())

		info, err := kernel.KernelInfo(context.Background())
		Expect(err).To(BeNil())
		Expect(info.LanguageInfo).To(Equal(&messaging.LanguageInfo{Name: "python", Version: "3.11.4"}))
		Expect(fake.KernelInfoRequests()).To(Equal(1))
	})

	It("Will create messages in the kernel's session", func() {
		kernel, _, _ := testutil.NewKernelClient(context.Background(), factory, "python3", connectionFile, opts)
		defer kernel.Shutdown(context.Background())

		msg := kernel.NewMessage(messaging.ShellExecuteRequest)
		Expect(msg.Header.Session).To(Equal(kernel.ID()))
		Expect(kernel.Channels().Identity()).To(Equal(kernel.ID()))
		Expect(kernel.SpecName()).To(Equal("python3"))
	})

	It("Will only correlate requests on shell and control", func() {
		kernel, _, _ := testutil.NewKernelClient(context.Background(), factory, "python3", connectionFile, opts)
		defer kernel.Shutdown(context.Background())

		_, err := kernel.Request(context.Background(), channel.IOPubChannel, kernel.NewMessage(messaging.KernelInfoRequest))
		Expect(errors.Is(err, jupyter.ErrNotSupported)).To(BeTrue())
	})

	It("Will tear the kernel down", func() {
		kernel, fake, process := testutil.NewKernelClient(context.Background(), factory, "python3", connectionFile, opts)

		Expect(kernel.Shutdown(context.Background())).To(Succeed())
		Expect(kernel.IsClosed()).To(BeTrue())
		Expect(kernel.Context().Err()).To(MatchError(context.Canceled))

		Expect(fake.ShutdownRequests()).To(Equal(1))
		Expect(fake.IsClosed()).To(BeTrue())
		Expect(process.Shutdowns.Load()).To(Equal(int32(1)))
		Expect(process.Kills.Load()).To(Equal(int32(0)))
		Eventually(process.Exited()).Should(BeClosed())

		_, err := os.Stat(connectionFile)
		Expect(os.IsNotExist(err)).To(BeTrue())

		// Only the first call has an effect.
		Expect(kernel.Shutdown(context.Background())).To(Succeed())
		Expect(process.Shutdowns.Load()).To(Equal(int32(1)))
	})

	It("Will kill a kernel process that outlives the grace period", func() {
		kernel, _, process := testutil.NewKernelClient(context.Background(), factory, "python3", connectionFile, opts)
		process.ExitOnShutdown = false

		Expect(kernel.Shutdown(context.Background())).To(Succeed())
		Expect(process.Kills.Load()).To(Equal(int32(1)))
		code, exited := process.ExitCode()
		Expect(exited).To(BeTrue())
		Expect(code).To(Equal(-1))
	})

	It("Will not signal a kernel process that has already exited", func() {
		kernel, fake, process := testutil.NewKernelClient(context.Background(), factory, "python3", connectionFile, opts)
		process.Exit(0)

		Expect(kernel.Shutdown(context.Background())).To(Succeed())
		Expect(fake.ShutdownRequests()).To(Equal(0))
		Expect(process.Shutdowns.Load()).To(Equal(int32(0)))
	})

	It("Will release pending requests when the kernel is torn down", func() {
		factory.HoldReplies()
		kernel, fake, _ := testutil.NewKernelClient(context.Background(), factory, "python3", connectionFile, opts)

		errs := make(chan error, 1)
		go func() {
			_, err := kernel.KernelInfo(context.Background())
			errs <- err
		}()

		Eventually(fake.KernelInfoRequests).Should(Equal(1))
		Consistently(errs, 50*time.Millisecond).ShouldNot(Receive())

		Expect(kernel.Shutdown(context.Background())).To(Succeed())
		Eventually(errs).Should(Receive(MatchError(jupyter.ErrKernelClosed)))
	})
})
