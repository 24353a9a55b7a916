package epics_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-kernel-manager/common/actions"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/channel"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/client"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
	testutil "github.com/scusemua/notebook-kernel-manager/common/testing"
	"github.com/scusemua/notebook-kernel-manager/kernel_daemon/epics"
)

var _ = Describe("Kernel Info Epic", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		factory *testutil.FakeKernelFactory
		epic    *epics.KernelInfoEpic
		rec     *recorder
		opts    client.KernelClientOptions
		python  *messaging.LanguageInfo
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		factory = testutil.NewFakeKernelFactory()
		python = &messaging.LanguageInfo{Name: "python", Version: "3.11.4", FileExtension: ".py"}
		factory.SetLanguage("python3", python)
		epic = epics.NewKernelInfoEpic()
		rec = &recorder{}
		opts = client.KernelClientOptions{ShutdownGracePeriod: 100 * time.Millisecond}
	})

	AfterEach(func() {
		cancel()
		rec.tasks.Wait()
	})

	It("Will emit exactly one SET_LANGUAGE_INFO carrying the language of the kernel_info_reply", func() {
		kernel, fake, _ := testutil.NewKernelClient(ctx, factory, "python3", "", opts)
		defer kernel.Shutdown(context.Background())

		Expect(epic.Handle(ctx, actions.NewKernelAction{Kernel: kernel}, rec)).To(Succeed())
		rec.tasks.Wait()

		emitted := rec.OfType(actions.SetLanguageInfo)
		Expect(emitted).To(HaveLen(1))
		Expect(emitted[0].(actions.SetLanguageInfoAction).KernelID).To(Equal(kernel.ID()))
		Expect(emitted[0].(actions.SetLanguageInfoAction).LanguageInfo).To(Equal(python))
		Expect(fake.KernelInfoRequests()).To(Equal(1))
	})

	It("Will ignore unrelated shell traffic interleaved ahead of the reply", func() {
		factory.HoldReplies()
		kernel, fake, _ := testutil.NewKernelClient(ctx, factory, "python3", "", opts)
		defer kernel.Shutdown(context.Background())

		Expect(epic.Handle(ctx, actions.NewKernelAction{Kernel: kernel}, rec)).To(Succeed())
		Eventually(fake.KernelInfoRequests).Should(Equal(1))

		// A reply to some other request, and one that claims the right type but the wrong parent.
		other := messaging.NewMessage(messaging.ShellExecuteRequest, kernel.ID())
		stray, err := messaging.NewReply(other, messaging.KernelInfoReply, &messaging.MessageKernelInfoReply{
			LanguageInfo: &messaging.LanguageInfo{Name: "cobol"},
		})
		Expect(err).To(BeNil())
		fake.Channel(channel.ShellChannel).Deliver(stray)

		Consistently(func() int { return len(rec.OfType(actions.SetLanguageInfo)) }, 50*time.Millisecond).Should(Equal(0))

		fake.Release()
		rec.tasks.Wait()

		emitted := rec.OfType(actions.SetLanguageInfo)
		Expect(emitted).To(HaveLen(1))
		Expect(emitted[0].(actions.SetLanguageInfoAction).LanguageInfo).To(Equal(python))
	})

	It("Will replay the cached language without sending another request", func() {
		kernel, fake, _ := testutil.NewKernelClient(ctx, factory, "python3", "", opts)
		defer kernel.Shutdown(context.Background())

		Expect(epic.Handle(ctx, actions.NewKernelAction{Kernel: kernel}, rec)).To(Succeed())
		Expect(epic.Handle(ctx, actions.NewKernelAction{Kernel: kernel}, rec)).To(Succeed())

		info, err := epic.LanguageInfo(kernel.ID())
		Expect(err).To(BeNil())
		Expect(info).To(Equal(python))

		cached, ok := epic.CachedLanguageInfo(kernel.ID())
		Expect(ok).To(BeTrue())
		Expect(cached).To(Equal(python))

		rec.tasks.Wait()
		Expect(fake.KernelInfoRequests()).To(Equal(1))
		Expect(rec.OfType(actions.SetLanguageInfo)).To(HaveLen(1))
	})

	It("Will release a waiter without emitting when the kernel is torn down first", func() {
		factory.HoldReplies()
		kernel, fake, _ := testutil.NewKernelClient(ctx, factory, "python3", "", opts)

		Expect(epic.Handle(ctx, actions.NewKernelAction{Kernel: kernel}, rec)).To(Succeed())
		Eventually(fake.KernelInfoRequests).Should(Equal(1))

		_, ok := epic.CachedLanguageInfo(kernel.ID())
		Expect(ok).To(BeFalse())

		Expect(kernel.Shutdown(context.Background())).To(Succeed())
		rec.tasks.Wait()

		Expect(rec.OfType(actions.SetLanguageInfo)).To(BeEmpty())
		Eventually(func() error {
			_, err := epic.LanguageInfo(kernel.ID())
			return err
		}).Should(MatchError(epics.ErrUnknownKernel))
	})

	It("Will forget the language of a kernel once it is torn down", func() {
		kernel, _, _ := testutil.NewKernelClient(ctx, factory, "python3", "", opts)

		Expect(epic.Handle(ctx, actions.NewKernelAction{Kernel: kernel}, rec)).To(Succeed())
		info, err := epic.LanguageInfo(kernel.ID())
		Expect(err).To(BeNil())
		Expect(info).To(Equal(python))

		Expect(kernel.Shutdown(context.Background())).To(Succeed())
		rec.tasks.Wait()

		Eventually(func() error {
			_, err := epic.LanguageInfo(kernel.ID())
			return err
		}).Should(MatchError(epics.ErrUnknownKernel))
		_, ok := epic.CachedLanguageInfo(kernel.ID())
		Expect(ok).To(BeFalse())
		Expect(rec.OfType(actions.SetLanguageInfo)).To(HaveLen(1))
	})

	It("Will reject a NEW_KERNEL without a kernel", func() {
		Expect(epic.Handle(ctx, actions.NewKernelAction{}, rec)).To(MatchError(epics.ErrMissingKernel))
		Expect(epic.Accepts(actions.NewKernel)).To(BeTrue())
		Expect(epic.Accepts(actions.LaunchKernel)).To(BeFalse())
	})
})
