package notebook_test

import (
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter/notebook"
)

const sampleNotebook = `{
  "cells": [
    {"cell_type": "code", "execution_count": 1, "metadata": {}, "outputs": [], "source": ["import os\n", "print(os.getcwd())"]},
    {"cell_type": "markdown", "metadata": {}, "source": "# Title"}
  ],
  "metadata": {
    "kernelspec": {"display_name": "R", "language": "R", "name": "ir"},
    "language_info": {"name": "R", "version": "4.3.1"}
  },
  "nbformat": 4,
  "nbformat_minor": 5
}`

var _ = Describe("Notebook", func() {
	It("Will parse cells and metadata", func() {
		nb, err := notebook.Parse([]byte(sampleNotebook))
		Expect(err).To(BeNil())

		Expect(nb.NbFormat).To(Equal(4))
		Expect(nb.Cells).To(HaveLen(2))
		Expect(nb.Cells[0].Source.String()).To(Equal("import os\nprint(os.getcwd())"))
		Expect(*nb.Cells[0].ExecutionCount).To(Equal(1))
		Expect(nb.Cells[1].Source.String()).To(Equal("# Title"))
		Expect(nb.KernelName()).To(Equal("ir"))
	})

	It("Will fall back to the language name when there is no kernelspec", func() {
		nb, err := notebook.Parse([]byte(`{"metadata": {"language_info": {"name": "julia"}}}`))
		Expect(err).To(BeNil())
		Expect(nb.KernelName()).To(Equal("julia"))
	})

	It("Will treat an empty kernelspec name as absent", func() {
		nb, err := notebook.Parse([]byte(`{"metadata": {"kernelspec": {"name": ""}, "language_info": {"name": "julia"}}}`))
		Expect(err).To(BeNil())
		Expect(nb.KernelName()).To(Equal("julia"))
	})

	It("Will name no kernel when the metadata is empty", func() {
		nb, err := notebook.Parse([]byte(`{"metadata": {}}`))
		Expect(err).To(BeNil())
		Expect(nb.KernelName()).To(BeEmpty())
	})

	It("Will reject malformed documents", func() {
		_, err := notebook.Parse([]byte(`{"cells": [{"source": 42}]}`))
		Expect(errors.Is(err, notebook.ErrInvalidNotebook)).To(BeTrue())

		_, err = notebook.Parse([]byte(`not json`))
		Expect(errors.Is(err, notebook.ErrInvalidNotebook)).To(BeTrue())
	})

	It("Will load a notebook from disk", func() {
		path := filepath.Join(GinkgoT().TempDir(), "analysis.ipynb")
		Expect(os.WriteFile(path, []byte(sampleNotebook), 0644)).To(Succeed())

		nb, err := notebook.Load(path)
		Expect(err).To(BeNil())
		Expect(nb.Metadata.KernelSpec.DisplayName).To(Equal("R"))

		_, err = notebook.Load(filepath.Join(GinkgoT().TempDir(), "missing.ipynb"))
		Expect(err).To(HaveOccurred())
	})
})
