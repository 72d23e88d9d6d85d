package domain

// keySpecUsages is the platform capability matrix: which usages each key
// spec may be created with.
var keySpecUsages = map[KeySpec][]KeyUsage{
	KeySpecECCNistP256:      {KeyUsageSignVerify},
	KeySpecECCNistP384:      {KeyUsageSignVerify},
	KeySpecECCNistP521:      {KeyUsageSignVerify},
	KeySpecECCSecgP256K1:    {KeyUsageSignVerify},
	KeySpecRSA2048:          {KeyUsageEncryptDecrypt, KeyUsageSignVerify},
	KeySpecRSA3072:          {KeyUsageEncryptDecrypt, KeyUsageSignVerify},
	KeySpecRSA4096:          {KeyUsageEncryptDecrypt, KeyUsageSignVerify},
	KeySpecSymmetricDefault: {KeyUsageEncryptDecrypt},
}

func KnownKeySpec(spec KeySpec) bool {
	_, ok := keySpecUsages[spec]
	return ok
}

func KnownKeyUsage(usage KeyUsage) bool {
	switch usage {
	case KeyUsageSignVerify, KeyUsageEncryptDecrypt:
		return true
	default:
		return false
	}
}

// Supports reports whether a key of the given spec may be created for usage.
func Supports(spec KeySpec, usage KeyUsage) bool {
	for _, u := range keySpecUsages[spec] {
		if u == usage {
			return true
		}
	}
	return false
}

// SigningAlgorithms lists the signing algorithms a SIGN_VERIFY key of the
// given spec offers.
func SigningAlgorithms(spec KeySpec) []string {
	switch spec {
	case KeySpecECCNistP256, KeySpecECCSecgP256K1:
		return []string{"ECDSA_SHA_256"}
	case KeySpecECCNistP384:
		return []string{"ECDSA_SHA_384"}
	case KeySpecECCNistP521:
		return []string{"ECDSA_SHA_512"}
	case KeySpecRSA2048, KeySpecRSA3072, KeySpecRSA4096:
		return []string{
			"RSASSA_PKCS1_V1_5_SHA_256", "RSASSA_PKCS1_V1_5_SHA_384", "RSASSA_PKCS1_V1_5_SHA_512",
			"RSASSA_PSS_SHA_256", "RSASSA_PSS_SHA_384", "RSASSA_PSS_SHA_512",
		}
	default:
		return nil
	}
}
