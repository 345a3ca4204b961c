package api

// Descriptor is the per-variant record handed to the archive uploader.
// Field order is alphabetical so the YAML output keeps sorted keys.
type Descriptor struct {
	ImageFileFormat         string `yaml:"image_file_format"`
	ImageModality           string `yaml:"image_modality"`
	ScanObject              string `yaml:"scan_object"`
	ScanType                string `yaml:"scan_type"`
	TransformationPerformed string `yaml:"transformation_performed"`
}

// Manifest maps a normalized path template to itself.
type Manifest map[string]string
