package trigger

type analysisHandler struct {
	typ    Type
	status string
}

func (h analysisHandler) Type() Type            { return h.typ }
func (h analysisHandler) RequiredScope() string { return "analysis.read" }

func (h analysisHandler) Describe() string {
	if h.status == "failed" {
		return "An AI analysis run failed."
	}
	return "An AI analysis run finished and its results are available."
}

func (h analysisHandler) SamplePayload() map[string]any {
	p := map[string]any{
		"event":       string(h.typ),
		"analysis_id": "ana_test",
		"document_id": "doc_test",
		"status":      h.status,
		"test":        true,
	}
	if h.status == "failed" {
		p["error"] = "sample failure"
	} else {
		p["summary"] = "sample summary"
	}
	return p
}

type documentUploadedHandler struct{}

func (documentUploadedHandler) Type() Type            { return DocumentUploaded }
func (documentUploadedHandler) RequiredScope() string { return "documents.read" }
func (documentUploadedHandler) Describe() string      { return "A document was uploaded." }

func (documentUploadedHandler) SamplePayload() map[string]any {
	return map[string]any{
		"event":       string(DocumentUploaded),
		"document_id": "doc_test",
		"filename":    "sample.pdf",
		"size_bytes":  1024,
		"test":        true,
	}
}

type reportGeneratedHandler struct{}

func (reportGeneratedHandler) Type() Type            { return ReportGenerated }
func (reportGeneratedHandler) RequiredScope() string { return "reports.read" }
func (reportGeneratedHandler) Describe() string      { return "A PDF report was rendered." }

func (reportGeneratedHandler) SamplePayload() map[string]any {
	return map[string]any{
		"event":     string(ReportGenerated),
		"report_id": "rep_test",
		"format":    "pdf",
		"test":      true,
	}
}

type crmSyncedHandler struct{}

func (crmSyncedHandler) Type() Type            { return CRMSynced }
func (crmSyncedHandler) RequiredScope() string { return "crm.read" }
func (crmSyncedHandler) Describe() string      { return "Analysis fields were pushed to the CRM." }

func (crmSyncedHandler) SamplePayload() map[string]any {
	return map[string]any{
		"event":          string(CRMSynced),
		"record_id":      "crm_test",
		"fields_updated": 3,
		"test":           true,
	}
}
