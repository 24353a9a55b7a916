package invoker_test

import (
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/local_daemon/invoker"
)

// installKernelSpec writes a kernel.json for the named spec under dataDir/kernels. The spec
// directory is assembled elsewhere and moved into place so that it appears atomically.
func installKernelSpec(dataDir string, name string, kernelJson string) string {
	staging := filepath.Join(GinkgoT().TempDir(), name)
	Expect(os.MkdirAll(staging, 0755)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(staging, invoker.KernelSpecFile), []byte(kernelJson), 0644)).To(Succeed())

	kernels := filepath.Join(dataDir, "kernels")
	Expect(os.MkdirAll(kernels, 0755)).To(Succeed())

	target := filepath.Join(kernels, name)
	Expect(os.Rename(staging, target)).To(Succeed())
	return target
}

var _ = Describe("Kernel Spec Manager", func() {
	var (
		userDir   string
		systemDir string
		manager   *invoker.KernelSpecManager
	)

	BeforeEach(func() {
		userDir = GinkgoT().TempDir()
		systemDir = GinkgoT().TempDir()

		installKernelSpec(userDir, "python3", `{"argv": ["python3", "-m", "ipykernel_launcher", "-f", "{connection_file}"], "display_name": "Python 3 (user)", "language": "python"}`)
		installKernelSpec(systemDir, "python3", `{"argv": ["python3"], "display_name": "Python 3 (system)", "language": "python"}`)
		installKernelSpec(systemDir, "ir", `{"argv": ["R", "--slave"], "display_name": "R", "language": "R", "env": {"R_HOME": "/opt/R"}}`)
		installKernelSpec(systemDir, "broken", `{"argv": []}`)

		manager = invoker.NewKernelSpecManager(userDir, systemDir)
	})

	AfterEach(func() {
		Expect(manager.Close()).To(Succeed())
	})

	It("Will prefer the kernel spec found in the earlier data directory", func() {
		spec, err := manager.Get("python3")
		Expect(err).To(BeNil())
		Expect(spec.DisplayName).To(Equal("Python 3 (user)"))
		Expect(spec.ResourceDir).To(Equal(filepath.Join(userDir, "kernels", "python3")))
		Expect(spec.Argv).To(ContainElement("{connection_file}"))
	})

	It("Will list every valid kernel spec once", func() {
		specs := manager.List()

		names := make([]string, 0, len(specs))
		for _, spec := range specs {
			names = append(names, spec.Name)
		}
		Expect(names).To(Equal([]string{"python3", "ir"}))

		ir, err := manager.Get("IR")
		Expect(err).To(BeNil())
		Expect(ir.Env).To(HaveKeyWithValue("R_HOME", "/opt/R"))
	})

	It("Will report an unknown kernel spec", func() {
		_, err := manager.Get("broken")
		Expect(errors.Is(err, jupyter.ErrKernelSpecNotFound)).To(BeTrue())

		_, err = manager.Get("julia-1.10")
		Expect(errors.Is(err, jupyter.ErrKernelSpecNotFound)).To(BeTrue())
	})

	It("Will notice kernel specs installed after the first lookup", func() {
		_, err := manager.Get("julia-1.10")
		Expect(err).To(HaveOccurred())

		installKernelSpec(systemDir, "julia-1.10", `{"argv": ["julia"], "display_name": "Julia 1.10", "language": "julia"}`)

		Eventually(func() error {
			_, err := manager.Get("julia-1.10")
			return err
		}, "5s", "20ms").Should(Succeed())
	})

	It("Will rescan after being invalidated", func() {
		Expect(manager.List()).To(HaveLen(2))

		Expect(os.RemoveAll(filepath.Join(systemDir, "kernels", "ir"))).To(Succeed())
		manager.Invalidate()

		Expect(manager.List()).To(HaveLen(1))
	})

	It("Will build the search path from the Jupyter environment variables", func() {
		GinkgoT().Setenv("JUPYTER_PATH", "/opt/a"+string(os.PathListSeparator)+"/opt/b")
		GinkgoT().Setenv("JUPYTER_DATA_DIR", "/home/user/jupyter")

		Expect(invoker.JupyterDataDirs()).To(Equal([]string{
			"/opt/a", "/opt/b", "/home/user/jupyter", "/usr/local/share/jupyter", "/usr/share/jupyter",
		}))
	})
})
