package content

// SchemaVersion identifies the content feature schema. The extractor and
// the normalization pipeline are versioned as a unit: models are trained on
// this exact schema, so any change here requires re-fitting the pipeline and
// retraining, and bumps this string.
const SchemaVersion = "content-v1"

// FeatureNames is the fixed, ordered content feature schema.
var FeatureNames = []string{
	// Transport metadata
	"status_code",
	"redirect_count",

	// Structural binary features
	"has_title",
	"has_input",
	"has_submit",
	"has_link",
	"has_button",
	"has_img",
	"has_password",
	"has_hidden_element",
	"has_email_input",
	"has_audio",
	"has_video",

	// Structural counts
	"length_of_title",
	"number_of_inputs",
	"number_of_script",
	"number_of_buttons",
	"number_of_img",
	"number_of_table",
	"number_of_th",
	"number_of_tr",
	"number_of_href",
	"number_of_paragraph",
	"number_of_options",

	// Malware indicators (binary)
	"has_exe_download",
	"has_archive_download",
	"has_download_button",
	"has_obfuscated_js",
	"has_iframe_loader",
	"has_random_subdomain",
	"has_numeric_domain",
	"has_suspicious_path",
	"has_executable_content_type",
	"has_drive_by_loader",
	"has_redirect_chains",
	"has_eval_js",
	"has_suspicious_domains",
	"has_excessive_domains",
	"has_base64_script",
	"has_hidden_iframe",
	"is_shortened_url",

	// Malware indicators (quantitative)
	"js_obfuscation_score",
	"number_of_iframes",
	"number_of_suspicious_elements",
	"external_domain_count",
	"suspicious_domain_count",
	"script_to_content_ratio",
}

// IdentifierColumns are carried alongside features in training CSVs but are
// excluded from normalization and the model input deterministically.
var IdentifierColumns = []string{"url", "fetch_success"}
