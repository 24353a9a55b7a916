package epics_test

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/scusemua/notebook-kernel-manager/common/actions"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/client"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/notebook"
	testutil "github.com/scusemua/notebook-kernel-manager/common/testing"
	"github.com/scusemua/notebook-kernel-manager/kernel_daemon/epics"
	"github.com/scusemua/notebook-kernel-manager/local_daemon/mock_invoker"
)

// slowEpic blocks on every action until released.
type slowEpic struct {
	release chan struct{}
	handled chan actions.Action
}

func (e *slowEpic) Name() string { return "Slow" }

func (e *slowEpic) Accepts(actions.Type) bool { return true }

func (e *slowEpic) Handle(ctx context.Context, action actions.Action, _ epics.Dispatcher) error {
	select {
	case <-e.release:
	case <-ctx.Done():
	}
	e.handled <- action
	return nil
}

var _ = Describe("Runner", func() {
	It("Will drive a notebook all the way to a running kernel", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ctrl := gomock.NewController(GinkgoT())
		defer ctrl.Finish()

		dir := GinkgoT().TempDir()
		result, _ := launchResult(dir, "python3", 100)
		launcher := mock_invoker.NewMockKernelLauncher(ctrl)
		launcher.EXPECT().Launch(gomock.Any(), "python3", dir).Return(result, nil)

		factory := testutil.NewFakeKernelFactory()
		python := &messaging.LanguageInfo{Name: "python", Version: "3.12.0"}
		factory.SetLanguage("python3", python)

		rec := &recorder{}
		var runner *epics.Runner
		rec.loop = func(action actions.Action) { runner.Submit(action) }
		runner = epics.NewRunner(rec.Dispatch, nil,
			epics.NewNotebookKernelEpic(),
			epics.NewLaunchKernelEpic(launcher, factory, client.KernelClientOptions{ShutdownGracePeriod: 100 * time.Millisecond}),
			epics.NewKernelInfoEpic(),
			epics.NewExecutionStateEpic(),
		)
		runner.Start(ctx)

		nb := &notebook.Notebook{Metadata: notebook.Metadata{KernelSpec: &notebook.KernelSpec{Name: "python3"}}}
		runner.Submit(actions.SetNotebookAction{Filename: filepath.Join(dir, "nb.ipynb"), Data: nb})

		Eventually(func() int { return len(rec.OfType(actions.SetLanguageInfo)) }).Should(Equal(1))
		Eventually(func() int { return len(rec.OfType(actions.SetExecutionState)) }).Should(Equal(1))

		kernel := rec.OfType(actions.NewKernel)[0].(actions.NewKernelAction).Kernel
		Expect(rec.OfType(actions.LaunchKernel)).To(ConsistOf(actions.LaunchKernelAction{KernelSpecName: "python3", Cwd: dir}))
		Expect(rec.OfType(actions.SetLanguageInfo)[0]).To(Equal(actions.SetLanguageInfoAction{KernelID: kernel.ID(), LanguageInfo: python}))

		factory.Kernel(kernel.ID()).PublishStatus(messaging.ExecutionStateBusy)
		Eventually(func() []string { return rec.States(kernel.ID()) }).Should(Equal([]string{"idle", "busy"}))

		Expect(kernel.Shutdown(context.Background())).To(Succeed())
		cancel()
		Expect(runner.Stop()).To(Succeed())
	})

	It("Will report rejected actions and keep going", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var (
			mu       sync.Mutex
			rejected []error
		)
		onError := func(epic epics.Epic, action actions.Action, err error) {
			mu.Lock()
			defer mu.Unlock()
			rejected = append(rejected, err)
		}

		rec := &recorder{}
		runner := epics.NewRunner(rec.Dispatch, onError, epics.NewNotebookKernelEpic())
		runner.Start(ctx)

		runner.Submit(actions.SetNotebookAction{Filename: "/a/nb.ipynb"})
		runner.Submit(actions.SetNotebookAction{Filename: "/a/nb.ipynb", Data: &notebook.Notebook{}})
		Expect(runner.Stop()).To(Succeed())

		Expect(rejected).To(HaveLen(1))
		Expect(rejected[0]).To(MatchError(jupyter.ErrMissingNotebookData))
		Expect(rec.OfType(actions.LaunchKernel)).To(ConsistOf(actions.LaunchKernelAction{KernelSpecName: "python3", Cwd: "/a"}))
	})

	It("Will only hand an epic the actions it accepts", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		onError := func(epic epics.Epic, action actions.Action, err error) {
			defer GinkgoRecover()
			Fail("unexpected rejection of " + action.String() + ": " + err.Error())
		}

		rec := &recorder{}
		runner := epics.NewRunner(rec.Dispatch, onError, epics.NewNotebookKernelEpic())
		runner.Start(ctx)

		runner.Submit(actions.LaunchKernelAction{KernelSpecName: ""})
		runner.Submit(actions.SetExecutionStateAction{KernelID: "k", State: messaging.ExecutionStateBusy})
		Expect(runner.Stop()).To(Succeed())

		Expect(rec.Actions()).To(BeEmpty())
	})

	It("Will not let a slow epic hold up the others", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		slow := &slowEpic{release: make(chan struct{}), handled: make(chan actions.Action, 8)}
		rec := &recorder{}
		runner := epics.NewRunner(rec.Dispatch, nil, slow, epics.NewNotebookKernelEpic())
		runner.Start(ctx)

		runner.Submit(actions.SetNotebookAction{Filename: "/a/nb.ipynb", Data: &notebook.Notebook{}})
		runner.Submit(actions.SetNotebookAction{Filename: "/b/nb.ipynb", Data: &notebook.Notebook{}})

		Eventually(func() int { return len(rec.OfType(actions.LaunchKernel)) }).Should(Equal(2))
		Expect(slow.handled).To(BeEmpty())

		close(slow.release)
		Expect(runner.Stop()).To(Succeed())
		Expect(slow.handled).To(HaveLen(2))
	})

	It("Will drop pending actions when its context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())

		slow := &slowEpic{release: make(chan struct{}), handled: make(chan actions.Action, 8)}
		runner := epics.NewRunner(func(actions.Action) {}, nil, slow)
		runner.Start(ctx)

		runner.Submit(actions.LaunchKernelAction{KernelSpecName: "a"})
		runner.Submit(actions.LaunchKernelAction{KernelSpecName: "b"})
		cancel()
		Expect(runner.Wait()).To(Succeed())
		Expect(len(slow.handled)).To(BeNumerically("<=", 1))
	})
})
